package event

import "TroveLedger/internal/state"

// UpdateSystemParams replaces the protocol parameters. The version field of
// Params is ignored; the engine assigns the next one.
type UpdateSystemParams struct {
	Meta
	Params *state.SystemParams `json:"params" validate:"required"`
}

func (u *UpdateSystemParams) EventType() EventType {
	return EventTypeUpdateSystemParams
}
