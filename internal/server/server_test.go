package server_test

import (
	"TroveLedger/internal/ingestion"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/oracle"
	"TroveLedger/internal/query"
	"TroveLedger/internal/server"
	"TroveLedger/internal/testutil"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

// ============================================================================
// gRPC
// ============================================================================

func TestLedgerService_GRPC(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	ctx := context.Background()

	t.Run("submit", func(t *testing.T) {
		resp, err := server.Call[server.SubmitRequest, server.SubmitResponse](ctx, conn, "Submit", &server.SubmitRequest{
			Type:    "OpenPosition",
			Command: openJSON("grpc-open-1", testutil.Alice, "200", "2000"),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), resp.Sequence)
		assert.Len(t, resp.StateHash, 64)
		assert.NotNil(t, resp.Result)
	})

	t.Run("duplicate is AlreadyExists", func(t *testing.T) {
		_, err := server.Call[server.SubmitRequest, server.SubmitResponse](ctx, conn, "Submit", &server.SubmitRequest{
			Type:    "OpenPosition",
			Command: openJSON("grpc-open-1", testutil.Alice, "200", "2000"),
		})
		assert.Equal(t, codes.AlreadyExists, status.Code(err))
	})

	t.Run("business rejection is FailedPrecondition", func(t *testing.T) {
		_, err := server.Call[server.SubmitRequest, server.SubmitResponse](ctx, conn, "Submit", &server.SubmitRequest{
			Type:    "OpenPosition",
			Command: openJSON("grpc-open-small", testutil.Bob, "200", "100"),
		})
		assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	})

	t.Run("unknown command is InvalidArgument", func(t *testing.T) {
		_, err := server.Call[server.SubmitRequest, server.SubmitResponse](ctx, conn, "Submit", &server.SubmitRequest{
			Type:    "OpenShort",
			Command: json.RawMessage(`{}`),
		})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("live position", func(t *testing.T) {
		resp, err := server.Call[server.OwnerRequest, server.LivePositionResponse](ctx, conn, "GetLivePosition",
			&server.OwnerRequest{Owner: testutil.Alice.Hex()})
		require.NoError(t, err)
		assert.True(t, resp.Coll.Eq(testutil.Dec(200)))
		assert.True(t, resp.Debt.Eq(testutil.Dec(2200)))
		require.NotNil(t, resp.ICR)
		assert.Equal(t, int64(1), resp.Sequence)

		_, err = server.Call[server.OwnerRequest, server.LivePositionResponse](ctx, conn, "GetLivePosition",
			&server.OwnerRequest{Owner: testutil.Carol.Hex()})
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("system status", func(t *testing.T) {
		resp, err := server.Call[server.Empty, server.SystemStatusResponse](ctx, conn, "GetSystemStatus", &server.Empty{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), resp.Sequence)
		require.NotNil(t, resp.TCR)
		assert.False(t, resp.RecoveryMode)
		assert.Equal(t, 1, resp.Pools.ActivePositions)
		assert.True(t, resp.Params.MCR.Eq(env.harness.Engine.Params().MCR))
	})

	t.Run("projection reads", func(t *testing.T) {
		resp, err := server.Call[server.OwnerRequest, query.PositionResponse](ctx, conn, "GetPosition",
			&server.OwnerRequest{Owner: testutil.Alice.Hex()})
		require.NoError(t, err)
		assert.Equal(t, "Active", resp.Status)

		_, err = server.Call[server.OwnerRequest, query.PositionResponse](ctx, conn, "GetPosition",
			&server.OwnerRequest{Owner: testutil.Bob.Hex()})
		assert.Equal(t, codes.NotFound, status.Code(err))

		_, err = server.Call[server.OwnerRequest, query.PositionResponse](ctx, conn, "GetPosition",
			&server.OwnerRequest{Owner: "alice"})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("list positions rejects unknown status", func(t *testing.T) {
		_, err := server.Call[server.ListPositionsRequest, server.ListPositionsResponse](ctx, conn, "ListPositions",
			&server.ListPositionsRequest{Status: "Frozen"})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("admin without snapshotter", func(t *testing.T) {
		_, err := server.Call[server.Empty, server.SnapshotResponse](ctx, conn, "TakeSnapshot", &server.Empty{})
		assert.Equal(t, codes.Unimplemented, status.Code(err))
	})
}

// ============================================================================
// HTTP gateway
// ============================================================================

func TestGateway_HTTP(t *testing.T) {
	env := newTestEnv(t)
	handler, err := env.grpc.Handler()
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	t.Run("submit command", func(t *testing.T) {
		code, body := do(t, http.MethodPost, ts.URL+"/v1/commands/OpenPosition",
			string(openJSON("http-open-1", testutil.Bob, "300", "2000")))
		require.Equal(t, http.StatusOK, code, body)

		var resp server.SubmitResponse
		require.NoError(t, json.Unmarshal([]byte(body), &resp))
		assert.Equal(t, int64(1), resp.Sequence)
	})

	t.Run("duplicate is 409", func(t *testing.T) {
		code, _ := do(t, http.MethodPost, ts.URL+"/v1/commands/OpenPosition",
			string(openJSON("http-open-1", testutil.Bob, "300", "2000")))
		assert.Equal(t, http.StatusConflict, code)
	})

	t.Run("live position", func(t *testing.T) {
		code, body := do(t, http.MethodGet, ts.URL+"/v1/positions/"+testutil.Bob.Hex()+"/live", "")
		require.Equal(t, http.StatusOK, code, body)
		assert.Contains(t, body, `"owner":"`+testutil.Bob.Hex()+`"`)
	})

	t.Run("bad address is 400", func(t *testing.T) {
		code, _ := do(t, http.MethodGet, ts.URL+"/v1/balances/0x12", "")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("bad limit is 400", func(t *testing.T) {
		code, _ := do(t, http.MethodGet, ts.URL+"/v1/liquidations?limit=many", "")
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("missing projection is 404", func(t *testing.T) {
		code, _ := do(t, http.MethodGet, ts.URL+"/v1/positions/"+testutil.Carol.Hex(), "")
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("price injection", func(t *testing.T) {
		code, body := do(t, http.MethodPost, ts.URL+"/v1/prices", `{"price":"210","sequence":2,"timestamp":1700000100}`)
		require.Equal(t, http.StatusOK, code, body)
		assert.Contains(t, body, "outcome")
	})

	t.Run("system", func(t *testing.T) {
		code, body := do(t, http.MethodGet, ts.URL+"/v1/system", "")
		require.Equal(t, http.StatusOK, code, body)
		assert.Contains(t, body, `"recovery_mode":false`)
	})

	t.Run("health and metrics", func(t *testing.T) {
		code, _ := do(t, http.MethodGet, ts.URL+"/healthz", "")
		assert.Equal(t, http.StatusOK, code)

		code, body := do(t, http.MethodGet, ts.URL+"/metrics", "")
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, "trove_commands_applied_total")
	})

	t.Run("unknown route is 404", func(t *testing.T) {
		code, _ := do(t, http.MethodGet, ts.URL+"/v1/nothing", "")
		assert.Equal(t, http.StatusNotFound, code)
	})
}

// --- Test helpers ---

type testEnv struct {
	harness *testutil.EngineHarness
	grpc    *server.GRPCServer
}

// newTestEnv runs a harness engine behind the command loop and a fake
// projection store that knows only Alice.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	h := testutil.NewEngineHarness(t)

	commands := make(chan ingestion.Submission, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ingestion.RunCommandLoop(ctx, commands, h.Engine, zerolog.Nop())
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	svc := server.NewLedgerService(server.ServiceDeps{
		Ingest:  ingestion.NewGRPCIngestService(commands, priceSink{}),
		Queries: &fakeQueries{known: testutil.Alice},
		Engine:  h.Engine,
	})
	reg := prometheus.NewRegistry()
	observability.NewMetrics(reg).CommandsApplied.WithLabelValues("OpenPosition").Inc()

	g := server.NewGRPCServer("bufnet", "", &server.ServerDeps{
		Service:  svc,
		Gatherer: reg,
		Logger:   zerolog.Nop(),
	})
	return &testEnv{harness: h, grpc: g}
}

func (e *testEnv) dial(t *testing.T) *grpc.ClientConn {
	t.Helper()
	listener := bufconn.Listen(bufSize)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := e.grpc.Serve(ctx, listener); err != nil && err != grpc.ErrServerStopped {
			t.Errorf("serve bufconn: %v", err)
		}
	}()
	t.Cleanup(cancel)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func openJSON(requestID string, owner common.Address, coll, debt string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"request_id":%q,"timestamp":%d,"owner":%q,"coll":"%s000000000000000000","debt_request":"%s000000000000000000","max_fee":"1000000000000000000"}`,
		requestID, testutil.T0, owner.Hex(), coll, debt,
	))
}

func do(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

type fakeQueries struct {
	known common.Address
}

func (f *fakeQueries) GetPosition(_ context.Context, owner common.Address) (*query.PositionResponse, error) {
	if owner != f.known {
		return nil, query.ErrNotFound
	}
	return &query.PositionResponse{Owner: owner.Hex(), Status: "Active", AsOfSequence: 1}, nil
}

func (f *fakeQueries) ListPositions(context.Context, string, int, *common.Address) ([]query.PositionResponse, error) {
	return []query.PositionResponse{{Owner: f.known.Hex(), Status: "Active"}}, nil
}

func (f *fakeQueries) GetBalance(_ context.Context, owner common.Address) (*query.BalanceResponse, error) {
	return &query.BalanceResponse{Owner: owner.Hex(), Stable: "0", Collateral: "0"}, nil
}

func (f *fakeQueries) GetLiquidationHistory(context.Context, *common.Address, int, *int64) ([]query.LiquidationResponse, error) {
	return nil, nil
}

func (f *fakeQueries) GetJournalHistory(context.Context, common.Address, int, *int64) ([]query.JournalHistoryEntry, error) {
	return nil, nil
}

func (f *fakeQueries) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true}, nil
}

type priceSink struct{}

func (priceSink) Update(oracle.PriceUpdate) (oracle.UpdateOutcome, error) {
	return oracle.OutcomeAccepted, nil
}
