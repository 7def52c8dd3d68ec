package streams

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEnvelopeValidateBasic(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
		want string
	}{
		{"missing id", Envelope{EventType: EventJob, PayloadVersion: PayloadV1, Data: []byte(`{}`)}, "event_id"},
		{"unknown type", Envelope{EventID: "e1", EventType: "run.enqueued", PayloadVersion: PayloadV1, Data: []byte(`{}`)}, "unknown event_type"},
		{"bad version", Envelope{EventID: "e1", EventType: EventJob, PayloadVersion: "v2", Data: []byte(`{}`)}, "payload_version"},
		{"no data", Envelope{EventID: "e1", EventType: EventJob, PayloadVersion: PayloadV1}, "data payload"},
	}
	for _, tc := range cases {
		err := tc.env.ValidateBasic()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}

	ok := Envelope{EventID: "e1", EventType: EventTransition, PayloadVersion: PayloadV1, Data: []byte(`{}`)}
	if err := ok.ValidateBasic(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}
	if ok.OccurredAt.IsZero() {
		t.Fatalf("expected OccurredAt to be defaulted")
	}
}

func TestEnvelopeFromValuesRoundTrip(t *testing.T) {
	job := Job{RunID: "r1", Email: "a@b.c", Secret: "s", URL: "https://quiz.example/task1", RequestedAt: time.Unix(0, 0).UTC()}
	data, _ := json.Marshal(job)
	env := Envelope{EventID: "e1", EventType: EventJob, RunID: "r1", PayloadVersion: PayloadV1, Data: data}
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	for _, v := range []interface{}{string(raw), raw} {
		got, err := envelopeFromValues(map[string]interface{}{"envelope": v})
		if err != nil {
			t.Fatalf("envelopeFromValues(%T): %v", v, err)
		}
		var decoded Job
		if err := got.Decode(&decoded); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.URL != job.URL || decoded.RunID != "r1" {
			t.Fatalf("unexpected job: %+v", decoded)
		}
	}

	if _, err := envelopeFromValues(map[string]interface{}{"other": "x"}); err == nil {
		t.Fatalf("expected error for missing envelope field")
	}
	if _, err := envelopeFromValues(map[string]interface{}{"envelope": "{not json"}); err == nil {
		t.Fatalf("expected error for malformed envelope")
	}
}

func TestJobValidate(t *testing.T) {
	good := Job{Email: "a@b.c", Secret: "s", URL: "https://quiz.example/task1"}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}
	for _, j := range []Job{
		{Secret: "s", URL: good.URL},
		{Email: "a@b.c", URL: good.URL},
		{Email: "a@b.c", Secret: "s", URL: "/task1"},
		{Email: "a@b.c", Secret: "s", URL: "ftp://quiz.example/task1"},
	} {
		if err := j.Validate(); err == nil {
			t.Fatalf("expected %+v to be rejected", j)
		}
	}
}

func TestLagMetricsString(t *testing.T) {
	m := LagMetrics{Pending: 2, Lag: 5, Consumers: 1, OldestIdle: 1500 * time.Millisecond}
	if got := m.String(); got != "pending=2 lag=5 consumers=1 oldest_idle=2s" {
		t.Fatalf("unexpected string: %s", got)
	}
}
