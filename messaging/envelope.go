package messaging

import (
	"encoding/json"
	"time"
)

// Envelope is the wire format for fleet events handed to the external
// notification layer. Payload formatting beyond this wrapper is the
// consumer's problem.
type Envelope struct {
	Kind      string          `json:"kind"`
	MasterID  string          `json:"master_id"`
	Timestamp string          `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

func NewEnvelope(kind, masterID string, payload any) *Envelope {
	data, _ := json.Marshal(payload)
	return &Envelope{
		Kind:      kind,
		MasterID:  masterID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   data,
	}
}

func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
