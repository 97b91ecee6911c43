package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/clinledger/internal/api/handler"
	"github.com/jmerrifield20/clinledger/internal/authgate"
	"github.com/jmerrifield20/clinledger/internal/deviation"
	"github.com/jmerrifield20/clinledger/internal/identity"
	"github.com/jmerrifield20/clinledger/internal/ledger"
	"github.com/jmerrifield20/clinledger/internal/signature"
	"go.uber.org/zap"
)

type testEnv struct {
	router   *gin.Engine
	core     *ledger.Core
	store    *ledger.MemoryStore
	tokens   *identity.TokenIssuer
	attempts *authgate.MemoryAttemptStore
	records  *signature.MapRecordSource
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	store := ledger.NewMemoryStore()
	core := ledger.New(store, logger,
		ledger.WithClock(func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }),
		ledger.WithMetrics(handler.Metrics{}),
	)
	tokens, err := identity.NewTokenIssuer([]byte(strings.Repeat("k", identity.MinSecretLength)), "clinledger-test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	attempts := authgate.NewMemoryAttemptStore()
	gate := authgate.NewGate(attempts, logger)
	dir := signature.StaticDirectory{
		"u-alice": {Name: "Alice Investigator", CredentialHash: authgate.HashSHA256("alice-pass")},
	}
	records := signature.NewMapRecordSource()
	records.Put("visits", "42", map[string]any{"id": "42", "weight_kg": 71.5})

	sigSvc := signature.NewService(core, gate, dir, records, logger)
	devSvc := deviation.NewService(core, logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewLedgerHandler(core, tokens, logger).Register(v1)
	handler.NewSignatureHandler(sigSvc, attempts, tokens, logger).Register(v1)
	handler.NewDeviationHandler(devSvc, logger).Register(v1)

	return &testEnv{router: r, core: core, store: store, tokens: tokens, attempts: attempts, records: records}
}

func (e *testEnv) token(t *testing.T, role identity.Role) string {
	t.Helper()
	tok, err := e.tokens.Issue("dr.jones", role)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return resp
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func validDeviation() map[string]any {
	return map[string]any{
		"protocol_id":       "PROTO-7",
		"subject_id":        "S-001",
		"category":          "dosing",
		"severity":          "major",
		"description":       "Dose administered two hours outside the window",
		"occurred_on":       "2024-02-27",
		"detected_on":       "2024-02-28",
		"reported_by":       "u-carol",
		"corrective_action": "Site retrained on dosing schedule",
	}
}
