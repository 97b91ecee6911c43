package handler_test

import (
	"net/http"
	"testing"

	"github.com/jmerrifield20/clinledger/internal/authgate"
	"github.com/jmerrifield20/clinledger/internal/identity"
)

func signBody(cred string) map[string]any {
	return map[string]any{
		"table_name": "visits",
		"record_id":  "42",
		"signer_id":  "u-alice",
		"credential": cred,
		"meaning":    "approved_by",
		"session_id": "sess-1",
	}
}

func TestSign_201(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/signatures", signBody("alice-pass"), "")
	expectStatus(t, w, http.StatusCreated)
	id := decode(t, w)["id"].(string)

	w = env.do(t, http.MethodGet, "/api/v1/signatures/"+id+"/verify", nil, "")
	expectStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	if resp["is_valid"] != true || resp["record_unchanged"] != true {
		t.Errorf("verification: %v", resp)
	}
	sig := resp["signature"].(map[string]any)
	if sig["meaning"] != "APPROVED_BY" || sig["signer_name"] != "Alice Investigator" {
		t.Errorf("signature: %v", sig)
	}

	env.records.Put("visits", "42", map[string]any{"id": "42", "weight_kg": 75.0})
	w = env.do(t, http.MethodGet, "/api/v1/signatures/"+id+"/verify", nil, "")
	resp = decode(t, w)
	if resp["is_valid"] != true || resp["record_unchanged"] != false {
		t.Errorf("changed record should not invalidate the signature: %v", resp)
	}
}

func TestSign_wrongCredential_401(t *testing.T) {
	env := setupRouter(t)

	w := env.do(t, http.MethodPost, "/api/v1/signatures", signBody("guess"), "")
	expectStatus(t, w, http.StatusUnauthorized)
	if decode(t, w)["code"] != "AUTHENTICATION_FAILURE" {
		t.Errorf("body: %s", w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/ledger/signatures/head", nil, "")
	if decode(t, w)["sequence"].(float64) != 0 {
		t.Error("failed authentication must not append")
	}

	records, _ := env.attempts.List(t.Context(), authgate.AttemptFilter{})
	if len(records) != 1 || records[0].IPAddress == "" || records[0].SessionID != "sess-1" {
		t.Errorf("attempt records: %+v", records)
	}
}

func TestSign_invalidRequests(t *testing.T) {
	env := setupRouter(t)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing table", map[string]any{"record_id": "42", "signer_id": "u-alice", "meaning": "APPROVED_BY"}, http.StatusBadRequest},
		{"unknown meaning", func() map[string]any { b := signBody("alice-pass"); b["meaning"] = "LIKED_BY"; return b }(), http.StatusUnprocessableEntity},
		{"bad table identifier", func() map[string]any { b := signBody("alice-pass"); b["table_name"] = "visits; drop"; return b }(), http.StatusUnprocessableEntity},
		{"missing record", func() map[string]any { b := signBody("alice-pass"); b["record_id"] = "999"; return b }(), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/signatures", tt.body, "")
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestSignatureListAndStats(t *testing.T) {
	env := setupRouter(t)
	env.do(t, http.MethodPost, "/api/v1/signatures", signBody("alice-pass"), "")
	env.do(t, http.MethodPost, "/api/v1/signatures", signBody("alice-pass"), "")

	w := env.do(t, http.MethodGet, "/api/v1/signatures?table=visits&record_id=42", nil, "")
	expectStatus(t, w, http.StatusOK)
	if n := decode(t, w)["count"].(float64); n != 2 {
		t.Errorf("expected 2 signatures, got %v", n)
	}

	w = env.do(t, http.MethodGet, "/api/v1/signatures", nil, "")
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodGet, "/api/v1/signatures/stats", nil, "")
	expectStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	if resp["total"].(float64) != 2 || resp["by_meaning"].(map[string]any)["APPROVED_BY"].(float64) != 2 {
		t.Errorf("stats: %v", resp)
	}

	w = env.do(t, http.MethodGet, "/api/v1/signatures/meanings", nil, "")
	expectStatus(t, w, http.StatusOK)
	if n := len(decode(t, w)["meanings"].([]any)); n != 6 {
		t.Errorf("expected 6 meanings, got %d", n)
	}
}

func TestSignatureAttempts_requireInvestigator(t *testing.T) {
	env := setupRouter(t)
	env.do(t, http.MethodPost, "/api/v1/signatures", signBody("alice-pass"), "")
	env.do(t, http.MethodPost, "/api/v1/signatures", signBody("wrong"), "")

	w := env.do(t, http.MethodGet, "/api/v1/signatures/attempts", nil, "")
	expectStatus(t, w, http.StatusUnauthorized)

	tok := env.token(t, identity.RoleInvestigator)
	w = env.do(t, http.MethodGet, "/api/v1/signatures/attempts?outcome=FAILED_PASSWORD", nil, tok)
	expectStatus(t, w, http.StatusOK)
	if n := decode(t, w)["count"].(float64); n != 1 {
		t.Errorf("expected 1 failed attempt, got %v", n)
	}

	w = env.do(t, http.MethodGet, "/api/v1/signatures/attempts?since=yesterday", nil, tok)
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodGet, "/api/v1/signatures/attempts/stats", nil, tok)
	expectStatus(t, w, http.StatusOK)
	resp := decode(t, w)
	if resp["total"].(float64) != 2 || resp["by_signer"].(map[string]any)["u-alice"].(float64) != 2 {
		t.Errorf("attempt stats: %v", resp)
	}
}
