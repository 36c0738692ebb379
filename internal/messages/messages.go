// Package messages defines the versioned envelope wrapping every directive
// the out-of-scope sync collaborator exchanges with the Control Surface
// (C9), grounded on strongdm-leash's internal/messages envelope pattern.
package messages

import "encoding/json"

// Type names for message envelopes (spec §4.9, §6.4).
const (
	TypeRuleSync      = "rule.sync"
	TypeFAAPolicySync = "faa.policy.sync"
	TypeModeSet       = "mode.set"
	TypeCacheFlush    = "cache.flush"
	TypeAck           = "ack"
	TypeDecisionEvent = "decision.event"
)

// Envelope is a versioned, self-describing message wrapper. Payload must
// be decoded into a concrete payload struct based on Type.
type Envelope struct {
	Type      string          `json:"type"`
	Version   int             `json:"version"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// RuleSyncPayload carries a rule-batch apply-operation (spec §4.9).
type RuleSyncPayload struct {
	SyncType string          `json:"sync_type"` // "clean" | "clean_all" | "normal"
	Rules    []json.RawMessage `json:"rules"`
}

// FAAPolicySyncPayload carries a replacement FAA policy document.
type FAAPolicySyncPayload struct {
	DocumentYAML string `json:"document_yaml"`
}

// ModeSetPayload changes the daemon's client mode.
type ModeSetPayload struct {
	Mode string `json:"mode"`
}

// AckPayload acknowledges receipt of a directive, echoing its RequestID.
type AckPayload struct {
	Status  string `json:"status"` // "ok" | "error"
	Message string `json:"message,omitempty"`
}

// DecisionEventPayload mirrors a single computed Decision to the admin
// feed's sync-collaborator-facing counterpart (spec §4.9 read-backs).
type DecisionEventPayload struct {
	TimestampUnixNano int64  `json:"timestamp_unix_nano"`
	Outcome           string `json:"outcome"`
	Reason            string `json:"reason"`
	Path              string `json:"path,omitempty"`
}

// WrapPayload marshals a payload into a versioned Envelope.
func WrapPayload(typ string, version int, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: typ, Version: version, Payload: raw}, nil
}

// WrapPayloadWithRequestID marshals a payload for a request/response
// exchange, stamping RequestID so the Ack can be correlated.
func WrapPayloadWithRequestID(typ, requestID string, version int, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: typ, Version: version, RequestID: requestID, Payload: raw}, nil
}

// UnmarshalPayload decodes the envelope payload into the provided
// destination.
func UnmarshalPayload[T any](env *Envelope, dst *T) error {
	return json.Unmarshal(env.Payload, dst)
}
