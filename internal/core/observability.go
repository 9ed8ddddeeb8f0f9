package core

import (
	"context"
	"time"

	"funnelcore/pkg/domain"
)

// Logger is the structured logging surface used by the service. Arguments are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// AuditStatus is the outcome recorded for an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditAction classifies what an audited operation did to its entity.
type AuditAction string

const (
	AuditActionCreate     AuditAction = "create"
	AuditActionTransition AuditAction = "transition"
	AuditActionAttach     AuditAction = "attach"
)

// AuditEntry is one audited write.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    AuditAction
	EntityID  string
	Status    AuditStatus
	Reason    string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries for write operations.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

// MetricsRecorder observes the outcome of every service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TransitionObserver is implemented by recorders that also count committed
// stage transitions.
type TransitionObserver interface {
	ObserveTransition(ctx context.Context, from, to domain.Stage)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Tracer opens a span per service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is closed with the operation's error, nil on success.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// TimelineCache holds transition histories outside the database. Store must
// not replace a cached timeline with a shorter one.
type TimelineCache interface {
	Get(ctx context.Context, prospectID string) ([]domain.TransitionEvent, bool, error)
	Store(ctx context.Context, prospectID string, events []domain.TransitionEvent) (bool, error)
	Invalidate(ctx context.Context, prospectID string) error
}

type noopTimelineCache struct{}

func (noopTimelineCache) Get(context.Context, string) ([]domain.TransitionEvent, bool, error) {
	return nil, false, nil
}

func (noopTimelineCache) Store(context.Context, string, []domain.TransitionEvent) (bool, error) {
	return false, nil
}

func (noopTimelineCache) Invalidate(context.Context, string) error { return nil }

type operationMeta struct {
	entity domain.EntityType
	action AuditAction
}

// auditedOperations lists the writes that produce audit entries. Reads are
// observed through metrics and traces only.
var auditedOperations = map[string]operationMeta{
	opCreateProspect:  {entity: domain.EntityProspect, action: AuditActionCreate},
	opApplyTransition: {entity: domain.EntityProspect, action: AuditActionTransition},
	opAppendDocument:  {entity: domain.EntityProspect, action: AuditActionAttach},
	opRegisterAgent:   {entity: domain.EntityAgent, action: AuditActionCreate},
}

func (s *Service) recordAuditSuccess(ctx context.Context, op, entityID string, duration time.Duration) {
	s.recordAudit(ctx, op, entityID, AuditStatusSuccess, "", duration)
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, status AuditStatus, reason string, duration time.Duration) {
	meta, ok := auditedOperations[op]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Status:    status,
		Reason:    reason,
		Duration:  duration,
		Timestamp: s.clock.Now().UTC(),
	})
}
