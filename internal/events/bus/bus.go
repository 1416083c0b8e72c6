// Package bus carries activation lifecycle events. Runners publish as
// they grant, finish, and release; fleet tooling subscribes to watch
// the fleet without polling the hub.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Subjects for the activation lifecycle. Wildcard subscribers use
// "activation.>".
const (
	SubjectActivationGranted   = "activation.granted"
	SubjectActivationCompleted = "activation.completed"
	SubjectActivationTimedOut  = "activation.timed_out"
	SubjectActivationFailed    = "activation.failed"
	SubjectLeaseRenewalLost    = "activation.lease_renewal_lost"
	SubjectRunnerStarted       = "runner.started"
	SubjectRunnerStopped       = "runner.stopped"
)

// Event is one message on the bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	RunnerID  string                 `json:"runner_id"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates an event stamped with a UUID and the current time.
func NewEvent(eventType, runnerID string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunnerID:  runnerID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler processes one delivered event.
type Handler func(ctx context.Context, event *Event) error

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the publish side runners use and the subscribe side
// tooling uses.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}
