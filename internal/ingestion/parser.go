package ingestion

import (
	"TroveLedger/internal/event"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/oracle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformed = errors.New("ingestion: malformed message")

// CommandMessage is the wire format for commands on NATS and the JSON
// ingest endpoint:
//
//	{"type": "OpenPosition", "data": {"request_id": "...", "timestamp": 1700000000, ...}}
//
// Amounts inside data are 18-decimal integers, as strings or numbers.
type CommandMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseCommand decodes and shape-checks one command. The type comes from
// the message, or from the last subject token when the message has none.
func ParseCommand(raw RawEvent) (event.Event, error) {
	var msg CommandMessage
	if err := json.Unmarshal(raw.Data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		msg.Type = subjectTail(raw.Subject)
	}
	if len(msg.Data) == 0 {
		return nil, fmt.Errorf("%w: %s has no data", ErrMalformed, msg.Type)
	}
	return DecodeCommand(msg.Type, msg.Data)
}

// DecodeCommand builds a validated command from its type name and payload.
func DecodeCommand(typeName string, data []byte) (event.Event, error) {
	et, err := event.ParseEventType(typeName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	evt, err := event.Decode(et, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := event.Validate(evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return evt, nil
}

// priceJSON is the feed's wire format. Price is a human decimal such as
// "2013.45"; Timestamp is unix seconds.
type priceJSON struct {
	Price     string `json:"price"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

// ParsePriceUpdate decodes one price feed message.
func ParsePriceUpdate(data []byte) (oracle.PriceUpdate, error) {
	var j priceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return oracle.PriceUpdate{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if j.Sequence <= 0 {
		return oracle.PriceUpdate{}, fmt.Errorf("%w: price sequence must be positive, got %d", ErrMalformed, j.Sequence)
	}
	if j.Timestamp <= 0 {
		return oracle.PriceUpdate{}, fmt.Errorf("%w: price timestamp must be positive", ErrMalformed)
	}
	price, err := fpmath.ParseDecimal(j.Price)
	if err != nil {
		return oracle.PriceUpdate{}, fmt.Errorf("%w: price %q: %v", ErrMalformed, j.Price, err)
	}
	return oracle.PriceUpdate{Price: price, Sequence: j.Sequence, Timestamp: j.Timestamp}, nil
}

func subjectTail(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}
