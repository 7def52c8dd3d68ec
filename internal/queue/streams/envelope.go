package streams

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types carried on the quiz streams.
const (
	EventJob         = "quiz.job"
	EventRunStarted  = "quiz.run.started"
	EventTransition  = "quiz.transition"
	EventRunFinished = "quiz.run.finished"

	PayloadV1 = "v1"
)

var knownEvents = map[string]bool{
	EventJob:         true,
	EventRunStarted:  true,
	EventTransition:  true,
	EventRunFinished: true,
}

// Envelope is the wrapper persisted under the "envelope" field of every stream entry.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	RunID          string          `json:"run_id,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	TraceID        string          `json:"trace_id,omitempty"`
	PayloadVersion string          `json:"payload_version"`
	Data           json.RawMessage `json:"data"`
}

// ValidateBasic checks the fields every consumer relies on.
func (e *Envelope) ValidateBasic() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if !knownEvents[e.EventType] {
		return fmt.Errorf("unknown event_type %q", e.EventType)
	}
	if e.PayloadVersion != PayloadV1 {
		return fmt.Errorf("unsupported payload_version %q for %s", e.PayloadVersion, e.EventType)
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("data payload is required")
	}
	return nil
}

func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.ValidateBasic(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// UnmarshalEnvelope parses and validates a stored envelope.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.ValidateBasic(); err != nil {
		return env, err
	}
	return env, nil
}
