package jlm

import (
	"context"
	"encoding/json"

	"github.com/meshcompute/coordinator/internal/ebg"
	"github.com/meshcompute/coordinator/internal/ids"
)

// domainEvent is the indexer-facing wire schema (spec §6): a stable JSON
// object consumers must tolerate unknown fields on.
type domainEvent struct {
	Event    string         `json:"event"`
	TS       int64          `json:"ts"`
	JobID    string         `json:"job_id,omitempty"`
	WorkerID string         `json:"worker_id,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Publisher is the narrow EBG surface JLM emits domain events through.
// Satisfied by *ebg.Fabric.
type Publisher interface {
	Publish(ctx context.Context, topic string, kind ebg.Kind, payload []byte, ttl int) error
}

const eventsTopic = "events"

func (m *Manager) emit(name string, jobID ids.JobID, workerID *ids.WorkerID, payload map[string]any) {
	if m.pub == nil {
		return
	}
	evt := domainEvent{Event: name, TS: m.now().UnixMilli(), Payload: payload}
	if !jobID.IsEmpty() {
		evt.JobID = jobID.String()
	}
	if workerID != nil {
		evt.WorkerID = workerID.String()
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return
	}
	_ = m.pub.Publish(context.Background(), eventsTopic, ebg.KindDomainEvent, b, 1)
}
