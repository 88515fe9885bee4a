package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxBodyBytes = 1 << 20

// NewGatewayMux routes the HTTP/JSON API onto svc. Errors are rendered by
// the gateway's error handler, so HTTP codes follow the gRPC status:
//
//	POST /v1/commands/{type}        Submit
//	POST /v1/prices                 InjectPrice
//	GET  /v1/positions              ListPositions (?status=&limit=&after=)
//	GET  /v1/positions/{owner}      GetPosition
//	GET  /v1/positions/{owner}/live GetLivePosition
//	GET  /v1/balances/{owner}       GetBalance
//	GET  /v1/deposits/{owner}       GetDeposit
//	GET  /v1/surplus/{owner}        GetSurplus
//	GET  /v1/liquidations           ListLiquidations (?owner=&limit=&before=)
//	GET  /v1/journals/{owner}       ListJournals (?limit=&before=)
//	GET  /v1/system                 GetSystemStatus
//	GET  /v1/admin/integrity        VerifyIntegrity
//	POST /v1/admin/snapshot         TakeSnapshot
//	POST /v1/admin/rebuild          RebuildProjections
func NewGatewayMux(svc LedgerServer) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	g := &gateway{svc: svc, mux: mux}

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/commands/{type}", g.submit},
		{http.MethodPost, "/v1/prices", g.injectPrice},
		{http.MethodGet, "/v1/positions", g.listPositions},
		{http.MethodGet, "/v1/positions/{owner}", g.getPosition},
		{http.MethodGet, "/v1/positions/{owner}/live", g.getLivePosition},
		{http.MethodGet, "/v1/balances/{owner}", g.getBalance},
		{http.MethodGet, "/v1/deposits/{owner}", g.getDeposit},
		{http.MethodGet, "/v1/surplus/{owner}", g.getSurplus},
		{http.MethodGet, "/v1/liquidations", g.listLiquidations},
		{http.MethodGet, "/v1/journals/{owner}", g.listJournals},
		{http.MethodGet, "/v1/system", g.systemStatus},
		{http.MethodGet, "/v1/admin/integrity", g.verifyIntegrity},
		{http.MethodPost, "/v1/admin/snapshot", g.takeSnapshot},
		{http.MethodPost, "/v1/admin/rebuild", g.rebuild},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

type gateway struct {
	svc LedgerServer
	mux *runtime.ServeMux
}

func (g *gateway) submit(w http.ResponseWriter, r *http.Request, params map[string]string) {
	body, err := readBody(r)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	g.reply(w, r)(g.svc.Submit(r.Context(), &SubmitRequest{Type: params["type"], Command: body}))
}

func (g *gateway) injectPrice(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req PriceRequest
	if err := decodeBody(r, &req); err != nil {
		g.fail(w, r, err)
		return
	}
	g.reply(w, r)(g.svc.InjectPrice(r.Context(), &req))
}

func (g *gateway) listPositions(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		g.fail(w, r, err)
		return
	}
	g.reply(w, r)(g.svc.ListPositions(r.Context(), &ListPositionsRequest{
		Status:     q.Get("status"),
		Limit:      int(limit),
		AfterOwner: q.Get("after"),
	}))
}

func (g *gateway) getPosition(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.reply(w, r)(g.svc.GetPosition(r.Context(), &OwnerRequest{Owner: params["owner"]}))
}

func (g *gateway) getLivePosition(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.reply(w, r)(g.svc.GetLivePosition(r.Context(), &OwnerRequest{Owner: params["owner"]}))
}

func (g *gateway) getBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.reply(w, r)(g.svc.GetBalance(r.Context(), &OwnerRequest{Owner: params["owner"]}))
}

func (g *gateway) getDeposit(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.reply(w, r)(g.svc.GetDeposit(r.Context(), &OwnerRequest{Owner: params["owner"]}))
}

func (g *gateway) getSurplus(w http.ResponseWriter, r *http.Request, params map[string]string) {
	g.reply(w, r)(g.svc.GetSurplus(r.Context(), &OwnerRequest{Owner: params["owner"]}))
}

func (g *gateway) listLiquidations(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	req, err := historyRequest(r, r.URL.Query().Get("owner"))
	if err != nil {
		g.fail(w, r, err)
		return
	}
	g.reply(w, r)(g.svc.ListLiquidations(r.Context(), req))
}

func (g *gateway) listJournals(w http.ResponseWriter, r *http.Request, params map[string]string) {
	req, err := historyRequest(r, params["owner"])
	if err != nil {
		g.fail(w, r, err)
		return
	}
	g.reply(w, r)(g.svc.ListJournals(r.Context(), req))
}

func (g *gateway) systemStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.reply(w, r)(g.svc.GetSystemStatus(r.Context(), &Empty{}))
}

func (g *gateway) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.reply(w, r)(g.svc.VerifyIntegrity(r.Context(), &Empty{}))
}

func (g *gateway) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.reply(w, r)(g.svc.TakeSnapshot(r.Context(), &Empty{}))
}

func (g *gateway) rebuild(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.reply(w, r)(g.svc.RebuildProjections(r.Context(), &Empty{}))
}

// reply returns a sink for a service call's results.
func (g *gateway) reply(w http.ResponseWriter, r *http.Request) func(resp any, err error) {
	return func(resp any, err error) {
		if err != nil {
			g.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	}
}

func (g *gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	runtime.HTTPError(r.Context(), g.mux, &runtime.JSONPb{}, w, r, err)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "read body: %v", err)
	}
	return body, nil
}

func decodeBody(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode body: %v", err)
	}
	return nil
}

func historyRequest(r *http.Request, owner string) (*HistoryRequest, error) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		return nil, err
	}
	before, err := intParam(q.Get("before"))
	if err != nil {
		return nil, err
	}
	return &HistoryRequest{Owner: owner, Limit: int(limit), BeforeSequence: before}, nil
}

func intParam(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "invalid integer %q", s)
	}
	return v, nil
}
