// Package audit records security events. Recording is fire-and-forget: a
// failing recorder never changes the outcome of the operation it describes.
package audit

import (
	"context"
	"log/slog"
	"sync"
)

type Event string

const (
	EventLoginSuccess          Event = "login_success"
	EventLoginFailure          Event = "login_failure"
	EventLockout               Event = "lockout"
	EventLogout                Event = "logout"
	EventLogoutAll             Event = "logout_all"
	EventTokenRefresh          Event = "token_refresh"
	EventPasswordChanged       Event = "password_changed"
	EventPasswordResetRequest  Event = "password_reset_requested"
	EventPasswordResetComplete Event = "password_reset_completed"
	EventForcedLogout          Event = "forced_logout"
	EventEmergencyReset        Event = "emergency_reset"
	EventUserCreated           Event = "user_created"
	EventUserDeactivated       Event = "user_deactivated"
)

// Level is the log level an event is written at.
func (e Event) Level() slog.Level {
	switch e {
	case EventLoginFailure, EventLockout, EventForcedLogout, EventEmergencyReset, EventUserDeactivated:
		return slog.LevelWarn
	case EventLoginSuccess, EventLogout, EventLogoutAll, EventTokenRefresh,
		EventPasswordChanged, EventPasswordResetRequest, EventPasswordResetComplete, EventUserCreated:
		return slog.LevelInfo
	}
	return slog.LevelInfo
}

type Recorder interface {
	Record(ctx context.Context, event Event, actorID string, details map[string]any)
}

// SecurityLogger writes events to a dedicated structured logger.
type SecurityLogger struct {
	logger *slog.Logger
}

func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger.With("component", "security_audit")}
}

func (s *SecurityLogger) Record(ctx context.Context, event Event, actorID string, details map[string]any) {
	attrs := make([]any, 0, 4+2*len(details))
	attrs = append(attrs, "event", string(event), "actor_id", actorID)
	for k, v := range details {
		attrs = append(attrs, k, v)
	}
	s.logger.Log(ctx, event.Level(), "Security event", attrs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, Event, string, map[string]any) {}

// Memory keeps events in order. It is used by tests and the admin CLI dry run.
type Memory struct {
	mu     sync.Mutex
	events []Entry
}

type Entry struct {
	Event   Event
	ActorID string
	Details map[string]any
}

func (m *Memory) Record(_ context.Context, event Event, actorID string, details map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Entry{Event: event, ActorID: actorID, Details: details})
}

func (m *Memory) Events() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.events))
	copy(out, m.events)
	return out
}

// Has reports whether event was recorded for actorID.
func (m *Memory) Has(event Event, actorID string) bool {
	for _, e := range m.Events() {
		if e.Event == event && e.ActorID == actorID {
			return true
		}
	}
	return false
}
