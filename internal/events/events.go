// Package events defines the audit event stream: every lifecycle
// transition, delegation change, and executed action produces one
// event. Sinks are fire-and-forget from the caller's point of view;
// a sink failure never fails the operation that produced the event.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/agentlease/leaseguard/pkg/ident"
)

const (
	TypeEntityMinted   = "entity_minted"
	TypeInstanceMinted = "instance_minted"
	TypeLeaseAssigned  = "lease_assigned"
	TypeLeaseExtended  = "lease_extended"
	TypeOwnerChanged   = "owner_changed"
	TypeOperatorSet    = "operator_set"
	TypeOperatorPermit = "operator_permit_accepted"
	TypePaused         = "entity_paused"
	TypeUnpaused       = "entity_unpaused"
	TypeTerminated     = "entity_terminated"
	TypeActionExecuted = "action_executed"
	TypeCommitFailure  = "policy_commit_failure"
	TypeWithdrawal     = "vault_withdrawal"
	TypeDeposit        = "vault_deposit"
)

// Event is one audit record. Fields is event-type specific and kept
// flat for downstream consumers.
type Event struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	EntityID string            `json:"entity_id"`
	At       time.Time         `json:"at"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// New stamps a fresh event with a UUIDv7 id.
func New(eventType, entityID string, at time.Time, fields map[string]string) Event {
	return Event{
		ID:       ident.MustNewString(),
		Type:     eventType,
		EntityID: entityID,
		At:       at.UTC(),
		Fields:   fields,
	}
}

func (e Event) Encode() ([]byte, error) { return json.Marshal(e) }

// Sink receives audit events. Implementations must tolerate concurrent
// publishers.
type Sink interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// MemorySink keeps events in order for tests and dev mode.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Publish(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Events returns a snapshot copy of everything published so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByType filters the snapshot down to one event type.
func (s *MemorySink) ByType(eventType string) []Event {
	var out []Event
	for _, e := range s.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
