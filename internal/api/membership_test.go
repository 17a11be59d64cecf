package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gymchain/gymchain-ledger/internal/crypto"
	"github.com/gymchain/gymchain-ledger/internal/ledger"
	"github.com/gymchain/gymchain-ledger/internal/observability"
	"github.com/gymchain/gymchain-ledger/internal/protocol"
	"github.com/gymchain/gymchain-ledger/internal/service"
)

func newTestServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	iss, err := crypto.NewIssuer("gym", "api-key")
	if err != nil {
		t.Fatalf("NewIssuer error: %v", err)
	}
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	l := ledger.New(iss, ledger.WithClock(func() time.Time { return now }), ledger.WithLocation(time.UTC))
	metrics := observability.NewMetrics()
	svc, err := service.NewMembership(service.MembershipParams{
		Ledger:     l,
		Metrics:    metrics,
		Logger:     slog.New(slog.NewJSONHandler(io.Discard, nil)),
		WriteToken: token,
		Issuer:     "gym",
	})
	if err != nil {
		t.Fatalf("NewMembership error: %v", err)
	}
	h := NewMembershipHandler(svc, HandlerOptions{Metrics: metrics.Handler()})
	srv := httptest.NewServer(CORSMiddleware([]string{"*"})(h.Router()))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestAddVerifyAndListBlocks(t *testing.T) {
	srv := newTestServer(t, "")

	resp := postJSON(t, srv, "/add_membership", `{"member_id":"A","status":"active","expiry":"2099-01-01"}`, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var added protocol.AddMembershipResponse
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		t.Fatalf("decode add response: %v", err)
	}
	if added.Message != "Block created for member A" || added.Block.Index != 1 {
		t.Fatalf("unexpected add response: %+v", added)
	}

	var verified protocol.VerifyMembershipResponse
	if code := getJSON(t, srv, "/verify_membership?member_id=A", &verified); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !verified.OK || verified.Message != "Member A is active, expiry: 2099-01-01" {
		t.Fatalf("unexpected verify response: %+v", verified)
	}

	var valid protocol.ChainValidResponse
	getJSON(t, srv, "/chain_valid", &valid)
	if !valid.Valid || valid.Length != 2 {
		t.Fatalf("unexpected chain status: %+v", valid)
	}

	var blocks []map[string]any
	getJSON(t, srv, "/blocks", &blocks)
	if len(blocks) != 2 || blocks[0]["index"] != float64(1) {
		t.Fatalf("expected newest-first blocks, got %v", blocks)
	}
	for _, field := range []string{"index", "timestamp", "record", "prev_hash", "content_hash", "signature"} {
		if _, ok := blocks[0][field]; !ok {
			t.Fatalf("block missing field %s: %v", field, blocks[0])
		}
	}
	if len(blocks[0]) != 6 {
		t.Fatalf("expected exactly six block fields, got %v", blocks[0])
	}
}

func TestAddMembershipValidation(t *testing.T) {
	srv := newTestServer(t, "")

	resp := postJSON(t, srv, "/add_membership", `{"member_id":"A"}`, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body protocol.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Message != "member_id and status are required" {
		t.Fatalf("unexpected error: %+v", body)
	}

	bad := postJSON(t, srv, "/add_membership", `{"member_id":`, nil)
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed json, got %d", bad.StatusCode)
	}
}

func TestAddMembershipRequiresWriteToken(t *testing.T) {
	srv := newTestServer(t, "issuer-token")

	denied := postJSON(t, srv, "/add_membership", `{"member_id":"A","status":"active"}`, nil)
	denied.Body.Close()
	if denied.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", denied.StatusCode)
	}
	ok := postJSON(t, srv, "/add_membership", `{"member_id":"A","status":"active"}`, map[string]string{WriteTokenHeader: "issuer-token"})
	ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", ok.StatusCode)
	}
}

func TestVerifyMembershipRequiresMemberID(t *testing.T) {
	srv := newTestServer(t, "")
	var body protocol.ErrorResponse
	if code := getJSON(t, srv, "/verify_membership", &body); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if body.Error.Code != service.CodeBadRequest {
		t.Fatalf("unexpected error: %+v", body)
	}
	var missing protocol.VerifyMembershipResponse
	getJSON(t, srv, "/verify_membership?member_id=ghost", &missing)
	if missing.OK || missing.Outcome != "not_found" {
		t.Fatalf("expected not found, got %+v", missing)
	}
}

func TestBlocksLastParameter(t *testing.T) {
	srv := newTestServer(t, "")
	for _, id := range []string{"A", "B", "C", "D", "E", "F"} {
		resp := postJSON(t, srv, "/add_membership", `{"member_id":"`+id+`","status":"active"}`, nil)
		resp.Body.Close()
	}
	var blocks []protocol.Block
	getJSON(t, srv, "/blocks", &blocks)
	if len(blocks) != 5 || blocks[0].Index != 6 {
		t.Fatalf("expected default of five newest blocks, got %d", len(blocks))
	}
	getJSON(t, srv, "/blocks?last=100", &blocks)
	if len(blocks) != 7 {
		t.Fatalf("expected whole chain, got %d", len(blocks))
	}
	for _, q := range []string{"0", "-1", "abc"} {
		if code := getJSON(t, srv, "/blocks?last="+q, nil); code != http.StatusBadRequest {
			t.Fatalf("expected 400 for last=%s, got %d", q, code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, "")
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/add_membership", nil)
	req.Header.Set("Origin", "http://frontdesk.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin, got %q", resp.Header.Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSSpecificOrigin(t *testing.T) {
	h := CORSMiddleware([]string{"http://frontdesk.local"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/chain_valid", nil)
	req.Header.Set("Origin", "http://frontdesk.local")
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://frontdesk.local" {
		t.Fatalf("expected origin to be echoed")
	}
	rec = httptest.NewRecorder()
	req.Header.Set("Origin", "http://elsewhere")
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected unknown origin to be ignored")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, "")
	resp := postJSON(t, srv, "/add_membership", `{"member_id":"A","status":"active"}`, nil)
	resp.Body.Close()
	mresp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer mresp.Body.Close()
	body, _ := io.ReadAll(mresp.Body)
	if !strings.Contains(string(body), `gymchain_appends_total{result="ok"} 1`) {
		t.Fatalf("expected append counter in metrics:\n%s", body)
	}
}

func TestIPAllowList(t *testing.T) {
	mw, err := IPAllowListMiddleware([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("IPAllowListMiddleware error: %v", err)
	}
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:4000"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected allowed ip, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	req.RemoteAddr = "192.168.1.1:4000"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden ip, got %d", rec.Code)
	}
	if _, err := IPAllowListMiddleware([]string{"not-a-cidr"}); err == nil {
		t.Fatalf("expected invalid cidr error")
	}
}

func TestBlocksCappedByMaxLastN(t *testing.T) {
	iss, err := crypto.NewIssuer("gym", "api-key")
	if err != nil {
		t.Fatalf("NewIssuer error: %v", err)
	}
	svc, err := service.NewMembership(service.MembershipParams{
		Ledger: ledger.New(iss),
		Logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewMembership error: %v", err)
	}
	srv := httptest.NewServer(NewMembershipHandler(svc, HandlerOptions{MaxLastN: 2}).Router())
	t.Cleanup(srv.Close)
	for _, id := range []string{"A", "B", "C"} {
		resp := postJSON(t, srv, "/add_membership", `{"member_id":"`+id+`","status":"active"}`, nil)
		resp.Body.Close()
	}
	var blocks []protocol.Block
	getJSON(t, srv, "/blocks?last=50", &blocks)
	if len(blocks) != 2 || blocks[0].Index != 3 {
		t.Fatalf("expected two capped blocks, got %+v", blocks)
	}
	if code := getJSON(t, srv, "/metrics", nil); code != http.StatusNotFound {
		t.Fatalf("expected metrics to be unmounted, got %d", code)
	}
}
