package service

import (
	"encoding/json"
	"time"

	"github.com/RemiBp/ProofOrigin/logging"
)

const (
	EventProofGenerated = "proof.generated"
	EventProofAnchored  = "proof.anchored"
	EventProofVerified  = "proof.verified"
)

type Event struct {
	Name      string                 `json:"name"`
	ProofId   string                 `json:"proof_id,omitempty"`
	OwnerId   string                 `json:"owner_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// EventSink receives lifecycle events. Emission is advisory: sinks must not
// fail the operation that produced the event.
type EventSink interface {
	Emit(event *Event)
}

// LogSink writes events to the service log as single line JSON.
type LogSink struct{}

func (LogSink) Emit(event *Event) {
	bz, err := json.Marshal(event)
	if err != nil {
		logging.Logger.Errorf("failed to encode event %s, err=%s", event.Name, err.Error())
		return
	}
	logging.Logger.Infof("event %s", string(bz))
}

func newEvent(name, proofId, ownerId string, payload map[string]interface{}) *Event {
	return &Event{
		Name:      name,
		ProofId:   proofId,
		OwnerId:   ownerId,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}
}
