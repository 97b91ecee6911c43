package handler_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/jmerrifield20/clinledger/internal/identity"
	"github.com/jmerrifield20/clinledger/internal/ledger"
)

func reportDeviation(t *testing.T, env *testEnv) string {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/v1/deviations", validDeviation(), "")
	expectStatus(t, w, http.StatusCreated)
	return decode(t, w)["id"].(string)
}

func TestLedgerHeads_200(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodGet, "/api/v1/ledger", nil, "")
	expectStatus(t, w, http.StatusOK)

	heads := decode(t, w)["heads"].([]any)
	if len(heads) != 2 {
		t.Fatalf("expected 2 namespaces, got %d", len(heads))
	}
	for _, h := range heads {
		head := h.(map[string]any)
		if head["hash"] != ledger.GenesisHash || head["sequence"].(float64) != 0 {
			t.Errorf("expected empty head, got %v", head)
		}
	}
}

func TestLedgerUnknownNamespace_404(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodGet, "/api/v1/ledger/payroll/verify", nil, "")
	expectStatus(t, w, http.StatusNotFound)
	if code := decode(t, w)["code"]; code != "NOT_FOUND" {
		t.Errorf("code: %v", code)
	}
}

func TestLedgerEntryRoutes(t *testing.T) {
	env := setupRouter(t)
	id := reportDeviation(t, env)
	reportDeviation(t, env)

	w := env.do(t, http.MethodGet, "/api/v1/ledger/deviations/entries/"+id, nil, "")
	expectStatus(t, w, http.StatusOK)
	entry := decode(t, w)
	if entry["sequence"].(float64) != 1 || entry["previous_hash"] != ledger.GenesisHash {
		t.Errorf("entry: %v", entry)
	}

	w = env.do(t, http.MethodGet, "/api/v1/ledger/deviations/sequence/2", nil, "")
	expectStatus(t, w, http.StatusOK)
	if decode(t, w)["previous_hash"] != entry["content_hash"] {
		t.Error("sequence 2 should link to sequence 1")
	}

	w = env.do(t, http.MethodGet, "/api/v1/ledger/deviations/entries/"+id+"/verify", nil, "")
	expectStatus(t, w, http.StatusOK)
	if decode(t, w)["is_valid"] != true {
		t.Errorf("expected valid entry: %s", w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/ledger/deviations/head", nil, "")
	expectStatus(t, w, http.StatusOK)
	if decode(t, w)["sequence"].(float64) != 2 {
		t.Errorf("head: %s", w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/ledger/deviations/entries?field=severity&value=MAJOR&limit=1", nil, "")
	expectStatus(t, w, http.StatusOK)
	if n := decode(t, w)["count"].(float64); n != 1 {
		t.Errorf("expected limit to apply, got %v entries", n)
	}

	w = env.do(t, http.MethodGet, "/api/v1/ledger/deviations/entries/"+uuid.NewString(), nil, "")
	expectStatus(t, w, http.StatusNotFound)
}

func TestLedgerBadParams_400(t *testing.T) {
	env := setupRouter(t)

	paths := []string{
		"/api/v1/ledger/deviations/entries/not-a-uuid",
		"/api/v1/ledger/deviations/sequence/0",
		"/api/v1/ledger/deviations/entries?limit=0",
		"/api/v1/ledger/deviations/entries?offset=-1",
		"/api/v1/ledger/deviations/entries?status=REVOKED",
		"/api/v1/ledger/deviations/entries?field=severity",
	}
	for _, p := range paths {
		w := env.do(t, http.MethodGet, p, nil, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", p, w.Code)
		}
	}
}

func TestLedgerVerifyChain_reportsTamper(t *testing.T) {
	env := setupRouter(t)
	reportDeviation(t, env)
	reportDeviation(t, env)
	reportDeviation(t, env)

	w := env.do(t, http.MethodGet, "/api/v1/ledger/deviations/verify", nil, "")
	expectStatus(t, w, http.StatusOK)
	if decode(t, w)["is_valid"] != true {
		t.Fatalf("expected intact chain: %s", w.Body.String())
	}

	if err := env.store.Tamper(ledger.NamespaceDeviations, 2, func(e *ledger.Entry) {
		e.Payload["severity"] = "MINOR"
	}); err != nil {
		t.Fatal(err)
	}

	w = env.do(t, http.MethodGet, "/api/v1/ledger/deviations/verify", nil, "")
	expectStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	if resp["is_valid"] != false || resp["first_broken_sequence"].(float64) != 2 {
		t.Errorf("report: %v", resp)
	}
	if resp["break"] != string(ledger.BreakHashMismatch) || resp["code"] != string(ledger.CodeTamperDetected) {
		t.Errorf("break: %v code: %v", resp["break"], resp["code"])
	}
}

func TestLedgerInvalidate(t *testing.T) {
	env := setupRouter(t)
	id := reportDeviation(t, env)
	path := "/api/v1/ledger/deviations/entries/" + id + "/invalidate"
	body := map[string]string{"reason": "Entered against the wrong subject"}

	w := env.do(t, http.MethodPost, path, body, "")
	expectStatus(t, w, http.StatusUnauthorized)

	w = env.do(t, http.MethodPost, path, body, env.token(t, identity.RoleViewer))
	expectStatus(t, w, http.StatusForbidden)

	investigator := env.token(t, identity.RoleInvestigator)

	for _, short := range []map[string]string{{"reason": "typo"}, {"reason": ""}, {"reason": "   "}, {}} {
		w = env.do(t, http.MethodPost, path, short, investigator)
		expectStatus(t, w, http.StatusUnprocessableEntity)
		if decode(t, w)["code"] != "VALIDATION_ERROR" {
			t.Errorf("reason %q: %s", short["reason"], w.Body.String())
		}
	}

	w = env.do(t, http.MethodPost, path, body, investigator)
	expectStatus(t, w, http.StatusOK)
	inv := decode(t, w)["invalidation"].(map[string]any)
	if inv["invalidated_by"] != "dr.jones" {
		t.Errorf("invalidation should record the operator: %v", inv)
	}

	w = env.do(t, http.MethodPost, path, body, investigator)
	expectStatus(t, w, http.StatusConflict)
	if decode(t, w)["code"] != "ALREADY_INVALIDATED" {
		t.Errorf("body: %s", w.Body.String())
	}

	// Invalidation leaves the hash intact, so the chain still verifies.
	w = env.do(t, http.MethodGet, "/api/v1/ledger/deviations/verify", nil, "")
	if decode(t, w)["is_valid"] != true {
		t.Errorf("chain should stay intact after invalidation: %s", w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/api/v1/ledger/deviations/entries/"+id+"/verify", nil, "")
	if resp := decode(t, w); resp["is_valid"] != false || resp["code"] != "INVALIDATED" {
		t.Errorf("entry verification: %v", resp)
	}

	w = env.do(t, http.MethodPost, "/api/v1/ledger/deviations/entries/"+uuid.NewString()+"/invalidate", body, investigator)
	expectStatus(t, w, http.StatusNotFound)
}

func TestLedgerStats(t *testing.T) {
	env := setupRouter(t)
	reportDeviation(t, env)
	reportDeviation(t, env)

	w := env.do(t, http.MethodGet, "/api/v1/ledger/deviations/stats?by=severity,category", nil, "")
	expectStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	if resp["total"].(float64) != 2 {
		t.Errorf("total: %v", resp["total"])
	}
	byField := resp["by_field"].(map[string]any)
	if byField["severity"].(map[string]any)["MAJOR"].(float64) != 2 {
		t.Errorf("by_field: %v", byField)
	}
	if _, ok := byField["category"]; !ok {
		t.Error("expected category breakdown")
	}
}
