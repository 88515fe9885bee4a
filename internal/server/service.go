package server

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/ingestion"
	"TroveLedger/internal/oracle"
	"TroveLedger/internal/query"
	"TroveLedger/internal/state"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "troveledger.v1.Ledger"

// Ingest is the command and price entry point. *ingestion.GRPCIngestService
// implements it.
type Ingest interface {
	SubmitJSON(ctx context.Context, typeName string, data []byte) (*core.Receipt, error)
	InjectPrice(ctx context.Context, data []byte) (oracle.UpdateOutcome, error)
}

// Queries reads the projections. *query.QueryService implements it.
type Queries interface {
	GetPosition(ctx context.Context, owner common.Address) (*query.PositionResponse, error)
	ListPositions(ctx context.Context, status string, limit int, afterOwner *common.Address) ([]query.PositionResponse, error)
	GetBalance(ctx context.Context, owner common.Address) (*query.BalanceResponse, error)
	GetLiquidationHistory(ctx context.Context, owner *common.Address, limit int, beforeSequence *int64) ([]query.LiquidationResponse, error)
	GetJournalHistory(ctx context.Context, owner common.Address, limit int, beforeSequence *int64) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// LiveView reads the in-memory engine. *core.Engine implements it.
type LiveView interface {
	GetEntireDebtAndColl(owner common.Address) (*core.EntireDebtAndColl, error)
	GetCurrentICR(owner common.Address) (*uint256.Int, error)
	GetTCR() (*uint256.Int, error)
	CheckRecoveryMode() (bool, error)
	PoolBalances() *core.PoolBalances
	Deposit(depositor common.Address) (*core.DepositView, error)
	SurplusClaimable(owner common.Address) *uint256.Int
	FeeRates(now int64) *core.FeeRates
	Params() *state.SystemParams
	StateHash() [32]byte
	Sequence() int64
}

// SnapshotTaker is *persistence.Snapshotter.
type SnapshotTaker interface {
	Take(ctx context.Context) (*core.SnapshotState, error)
}

// --- Messages ---

type Empty struct{}

type SubmitRequest struct {
	Type    string          `json:"type"`
	Command json.RawMessage `json:"command"`
}

type SubmitResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
	Result    any    `json:"result,omitempty"`
}

type PriceRequest struct {
	Price     string `json:"price"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

type PriceResponse struct {
	Outcome string `json:"outcome"`
}

type OwnerRequest struct {
	Owner string `json:"owner"`
}

type ListPositionsRequest struct {
	Status     string `json:"status"`
	Limit      int    `json:"limit"`
	AfterOwner string `json:"after_owner"`
}

type ListPositionsResponse struct {
	Positions []query.PositionResponse `json:"positions"`
}

type HistoryRequest struct {
	Owner          string `json:"owner"`
	Limit          int    `json:"limit"`
	BeforeSequence int64  `json:"before_sequence"`
}

type ListLiquidationsResponse struct {
	Liquidations []query.LiquidationResponse `json:"liquidations"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

// LivePositionResponse is a position as the engine sees it now, pending
// redistribution rewards included.
type LivePositionResponse struct {
	Owner string `json:"owner"`
	*core.EntireDebtAndColl
	ICR      *uint256.Int `json:"icr,omitempty"`
	Sequence int64        `json:"sequence"`
}

type DepositResponse struct {
	Depositor string `json:"depositor"`
	*core.DepositView
	Sequence int64 `json:"sequence"`
}

type SurplusResponse struct {
	Owner     string       `json:"owner"`
	Claimable *uint256.Int `json:"claimable"`
}

// SystemStatusResponse is the live system view. TCR is absent while no
// fresh price is known.
type SystemStatusResponse struct {
	Sequence     int64               `json:"sequence"`
	StateHash    string              `json:"state_hash"`
	TCR          *uint256.Int        `json:"tcr,omitempty"`
	RecoveryMode bool                `json:"recovery_mode"`
	PriceError   string              `json:"price_error,omitempty"`
	Pools        *core.PoolBalances  `json:"pools"`
	Fees         *core.FeeRates      `json:"fees"`
	Params       *state.SystemParams `json:"params"`
}

type SnapshotResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
}

// LedgerServer is the troveledger.v1.Ledger service.
type LedgerServer interface {
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error)
	InjectPrice(ctx context.Context, req *PriceRequest) (*PriceResponse, error)
	GetPosition(ctx context.Context, req *OwnerRequest) (*query.PositionResponse, error)
	ListPositions(ctx context.Context, req *ListPositionsRequest) (*ListPositionsResponse, error)
	GetBalance(ctx context.Context, req *OwnerRequest) (*query.BalanceResponse, error)
	ListLiquidations(ctx context.Context, req *HistoryRequest) (*ListLiquidationsResponse, error)
	ListJournals(ctx context.Context, req *HistoryRequest) (*ListJournalsResponse, error)
	GetLivePosition(ctx context.Context, req *OwnerRequest) (*LivePositionResponse, error)
	GetDeposit(ctx context.Context, req *OwnerRequest) (*DepositResponse, error)
	GetSurplus(ctx context.Context, req *OwnerRequest) (*SurplusResponse, error)
	GetSystemStatus(ctx context.Context, req *Empty) (*SystemStatusResponse, error)
	VerifyIntegrity(ctx context.Context, req *Empty) (*query.IntegrityReport, error)
	TakeSnapshot(ctx context.Context, req *Empty) (*SnapshotResponse, error)
	RebuildProjections(ctx context.Context, req *Empty) (*Empty, error)
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Submit", LedgerServer.Submit),
		unaryMethod("InjectPrice", LedgerServer.InjectPrice),
		unaryMethod("GetPosition", LedgerServer.GetPosition),
		unaryMethod("ListPositions", LedgerServer.ListPositions),
		unaryMethod("GetBalance", LedgerServer.GetBalance),
		unaryMethod("ListLiquidations", LedgerServer.ListLiquidations),
		unaryMethod("ListJournals", LedgerServer.ListJournals),
		unaryMethod("GetLivePosition", LedgerServer.GetLivePosition),
		unaryMethod("GetDeposit", LedgerServer.GetDeposit),
		unaryMethod("GetSurplus", LedgerServer.GetSurplus),
		unaryMethod("GetSystemStatus", LedgerServer.GetSystemStatus),
		unaryMethod("VerifyIntegrity", LedgerServer.VerifyIntegrity),
		unaryMethod("TakeSnapshot", LedgerServer.TakeSnapshot),
		unaryMethod("RebuildProjections", LedgerServer.RebuildProjections),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

func unaryMethod[Req, Resp any](name string, call func(LedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := fmt.Sprintf("/%s/%s", ServiceName, name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ============================================================================
// LedgerService
// ============================================================================

// LedgerService implements LedgerServer. Every error it returns carries a
// gRPC status.
type LedgerService struct {
	ingest    Ingest
	queries   Queries
	engine    LiveView
	snapshots SnapshotTaker
	rebuild   func(ctx context.Context) error
	now       func() time.Time
}

// ServiceDeps holds what the service needs. Snapshots and Rebuild may be
// nil; the admin calls then answer Unimplemented.
type ServiceDeps struct {
	Ingest    Ingest
	Queries   Queries
	Engine    LiveView
	Snapshots SnapshotTaker
	Rebuild   func(ctx context.Context) error
}

func NewLedgerService(deps ServiceDeps) *LedgerService {
	return &LedgerService{
		ingest:    deps.Ingest,
		queries:   deps.Queries,
		engine:    deps.Engine,
		snapshots: deps.Snapshots,
		rebuild:   deps.Rebuild,
		now:       time.Now,
	}
}

func (s *LedgerService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req.Type == "" || len(req.Command) == 0 {
		return nil, status.Error(codes.InvalidArgument, "type and command are required")
	}
	receipt, err := s.ingest.SubmitJSON(ctx, req.Type, req.Command)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitResponse{
		Sequence:  receipt.Sequence,
		StateHash: hex.EncodeToString(receipt.StateHash[:]),
		Result:    receipt.Result,
	}, nil
}

func (s *LedgerService) InjectPrice(ctx context.Context, req *PriceRequest) (*PriceResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode price: %v", err)
	}
	outcome, err := s.ingest.InjectPrice(ctx, data)
	if err != nil {
		if errors.Is(err, core.ErrInvalidCommand) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	return &PriceResponse{Outcome: outcome.String()}, nil
}

func (s *LedgerService) GetPosition(ctx context.Context, req *OwnerRequest) (*query.PositionResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	pos, err := s.queries.GetPosition(ctx, owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return pos, nil
}

func (s *LedgerService) ListPositions(ctx context.Context, req *ListPositionsRequest) (*ListPositionsResponse, error) {
	if req.Status != "" && !validStatus(req.Status) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", req.Status)
	}
	var after *common.Address
	if req.AfterOwner != "" {
		a, err := parseOwner(req.AfterOwner)
		if err != nil {
			return nil, err
		}
		after = &a
	}
	positions, err := s.queries.ListPositions(ctx, req.Status, req.Limit, after)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListPositionsResponse{Positions: positions}, nil
}

func (s *LedgerService) GetBalance(ctx context.Context, req *OwnerRequest) (*query.BalanceResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	bal, err := s.queries.GetBalance(ctx, owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return bal, nil
}

func (s *LedgerService) ListLiquidations(ctx context.Context, req *HistoryRequest) (*ListLiquidationsResponse, error) {
	var owner *common.Address
	if req.Owner != "" {
		o, err := parseOwner(req.Owner)
		if err != nil {
			return nil, err
		}
		owner = &o
	}
	rows, err := s.queries.GetLiquidationHistory(ctx, owner, req.Limit, cursor(req.BeforeSequence))
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListLiquidationsResponse{Liquidations: rows}, nil
}

func (s *LedgerService) ListJournals(ctx context.Context, req *HistoryRequest) (*ListJournalsResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	entries, err := s.queries.GetJournalHistory(ctx, owner, req.Limit, cursor(req.BeforeSequence))
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListJournalsResponse{Journals: entries}, nil
}

func (s *LedgerService) GetLivePosition(ctx context.Context, req *OwnerRequest) (*LivePositionResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	entire, err := s.engine.GetEntireDebtAndColl(owner)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &LivePositionResponse{
		Owner:             owner.Hex(),
		EntireDebtAndColl: entire,
		Sequence:          s.engine.Sequence(),
	}
	// ICR needs a price; the amounts stand on their own.
	if icr, err := s.engine.GetCurrentICR(owner); err == nil {
		resp.ICR = icr
	}
	return resp, nil
}

func (s *LedgerService) GetDeposit(ctx context.Context, req *OwnerRequest) (*DepositResponse, error) {
	depositor, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	d, err := s.engine.Deposit(depositor)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DepositResponse{Depositor: depositor.Hex(), DepositView: d, Sequence: s.engine.Sequence()}, nil
}

func (s *LedgerService) GetSurplus(ctx context.Context, req *OwnerRequest) (*SurplusResponse, error) {
	owner, err := parseOwner(req.Owner)
	if err != nil {
		return nil, err
	}
	return &SurplusResponse{Owner: owner.Hex(), Claimable: s.engine.SurplusClaimable(owner)}, nil
}

func (s *LedgerService) GetSystemStatus(ctx context.Context, _ *Empty) (*SystemStatusResponse, error) {
	hash := s.engine.StateHash()
	resp := &SystemStatusResponse{
		Sequence:  s.engine.Sequence(),
		StateHash: hex.EncodeToString(hash[:]),
		Pools:     s.engine.PoolBalances(),
		Fees:      s.engine.FeeRates(s.now().Unix()),
		Params:    s.engine.Params(),
	}
	tcr, err := s.engine.GetTCR()
	if err != nil {
		resp.PriceError = err.Error()
		return resp, nil
	}
	resp.TCR = tcr
	if resp.RecoveryMode, err = s.engine.CheckRecoveryMode(); err != nil {
		resp.PriceError = err.Error()
	}
	return resp, nil
}

func (s *LedgerService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	report, err := s.queries.VerifyIntegrity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return report, nil
}

func (s *LedgerService) TakeSnapshot(ctx context.Context, _ *Empty) (*SnapshotResponse, error) {
	if s.snapshots == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots are not configured")
	}
	snap, err := s.snapshots.Take(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "take snapshot: %v", err)
	}
	return &SnapshotResponse{
		Sequence:  snap.Sequence,
		StateHash: hex.EncodeToString(snap.StateHash[:]),
	}, nil
}

func (s *LedgerService) RebuildProjections(ctx context.Context, _ *Empty) (*Empty, error) {
	if s.rebuild == nil {
		return nil, status.Error(codes.Unimplemented, "projection rebuild is not configured")
	}
	if err := s.rebuild(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild projections: %v", err)
	}
	return &Empty{}, nil
}

// ============================================================================
// Helpers
// ============================================================================

// toStatus maps an engine, ingest or query error to a gRPC status.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ingestion.ErrMalformed):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(classCode(core.Classify(err)), err.Error())
}

func classCode(class core.ErrorClass) codes.Code {
	switch class {
	case core.ClassDuplicate:
		return codes.AlreadyExists
	case core.ClassInvalidArgument:
		return codes.InvalidArgument
	case core.ClassNotFound:
		return codes.NotFound
	case core.ClassPrecondition, core.ClassInvariant, core.ClassGuard:
		return codes.FailedPrecondition
	case core.ClassUnavailable:
		return codes.Unavailable
	case core.ClassResourceExhausted:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

func parseOwner(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, status.Errorf(codes.InvalidArgument, "invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func validStatus(name string) bool {
	for st := state.StatusNonExistent; st <= state.StatusClosedByRedemption; st++ {
		if st.String() == name {
			return true
		}
	}
	return false
}

func cursor(seq int64) *int64 {
	if seq <= 0 {
		return nil
	}
	return &seq
}
