package canonical_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jmerrifield20/clinledger/internal/canonical"
)

type severity string

func (s severity) String() string { return string(s) }

func TestEncode_fieldOrderIndependent(t *testing.T) {
	enc := canonical.V1{}

	a := map[string]any{}
	a["table_name"] = "visits"
	a["record_id"] = "42"
	a["meaning"] = "CREATED_BY"

	b := map[string]any{}
	b["meaning"] = "CREATED_BY"
	b["record_id"] = "42"
	b["table_name"] = "visits"

	ea, err := enc.Encode(a)
	if err != nil {
		t.Fatal(err)
	}
	eb, err := enc.Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(ea) != string(eb) {
		t.Errorf("encodings differ:\n%s\n%s", ea, eb)
	}
	want := `{"meaning":"CREATED_BY","record_id":"42","table_name":"visits"}`
	if string(ea) != want {
		t.Errorf("Encode: got %s, want %s", ea, want)
	}
}

func TestEncode_absentEqualsEmpty(t *testing.T) {
	enc := canonical.V1{}

	withEmpty, err := enc.Encode(map[string]any{
		"subject_id":        "S-001",
		"corrective_action": "",
		"context":           map[string]any{},
		"notes":             nil,
		"closed_at":         time.Time{},
	})
	if err != nil {
		t.Fatal(err)
	}
	without, err := enc.Encode(map[string]any{"subject_id": "S-001"})
	if err != nil {
		t.Fatal(err)
	}
	if string(withEmpty) != string(without) {
		t.Errorf("empty values should be dropped: %s vs %s", withEmpty, without)
	}
}

func TestEncode_timesAreUTC(t *testing.T) {
	enc := canonical.V1{}
	loc := time.FixedZone("CET", 3600)
	local := time.Date(2024, 3, 1, 13, 0, 0, 500, loc)

	got, err := enc.Encode(map[string]any{"signed_at": local})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"signed_at":"2024-03-01T12:00:00.0000005Z"}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestEncode_stringerEnums(t *testing.T) {
	enc := canonical.V1{}
	got, err := enc.Encode(map[string]any{"severity": severity("MAJOR")})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"severity":"MAJOR"}` {
		t.Errorf("got %s", got)
	}
}

func TestEncode_numbersFixedFormat(t *testing.T) {
	enc := canonical.V1{}
	asInt, err := enc.Encode(map[string]any{"count": 3})
	if err != nil {
		t.Fatal(err)
	}
	asFloat, err := enc.Encode(map[string]any{"count": 3.0})
	if err != nil {
		t.Fatal(err)
	}
	if string(asInt) != string(asFloat) {
		t.Errorf("3 and 3.0 should encode identically: %s vs %s", asInt, asFloat)
	}
}

func TestEncode_rejectsUnsupported(t *testing.T) {
	enc := canonical.V1{}

	if _, err := enc.Encode(map[string]any{"ch": make(chan int)}); !errors.Is(err, canonical.ErrUnsupportedValue) {
		t.Errorf("channel: expected ErrUnsupportedValue, got %v", err)
	}
	if _, err := enc.Encode(map[string]any{"x": math.NaN()}); !errors.Is(err, canonical.ErrUnsupportedValue) {
		t.Errorf("NaN: expected ErrUnsupportedValue, got %v", err)
	}
}

// A normalized payload that has been stored as JSON and read back must
// re-encode to the same bytes, otherwise persisted entries could not be verified.
func TestNormalize_survivesJSONRoundTrip(t *testing.T) {
	enc := canonical.V1{}
	in := map[string]any{
		"protocol_id": "PROTO-7",
		"severity":    severity("CRITICAL"),
		"occurred_on": time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		"visit":       7,
		"context": map[string]string{
			"ip_address": "10.0.0.1",
			"session_id": "",
		},
		"tags": []string{"a", "b"},
	}

	direct, err := enc.Encode(in)
	if err != nil {
		t.Fatal(err)
	}

	normalized, err := enc.Normalize(in)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		t.Fatal(err)
	}
	var stored map[string]any
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatal(err)
	}

	again, err := enc.Encode(stored)
	if err != nil {
		t.Fatal(err)
	}
	if string(direct) != string(again) {
		t.Errorf("round trip changed encoding:\n%s\n%s", direct, again)
	}
}

func TestRegistry_lookup(t *testing.T) {
	r := canonical.DefaultRegistry()
	if r.Current().Version() != 1 {
		t.Errorf("current version: got %d, want 1", r.Current().Version())
	}
	if _, err := r.Lookup(1); err != nil {
		t.Errorf("Lookup(1): %v", err)
	}
	if _, err := r.Lookup(99); !errors.Is(err, canonical.ErrUnknownVersion) {
		t.Errorf("Lookup(99): expected ErrUnknownVersion, got %v", err)
	}
}
