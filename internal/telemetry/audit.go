package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *zap.Logger
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        string       `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string `json:"level"`
	Action string `json:"action"`
	Text   string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *zap.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
		now:         time.Now,
	}
}

// Emit publishes one audit record. Failures are logged, never returned: the
// audited mutation has already committed.
func (e *AuditEmitter) Emit(ctx context.Context, level, action, text, requestID, userID string) {
	if e == nil || e.publisher == nil {
		return
	}

	e.log.Debug("audit emit",
		zap.String("level", level),
		zap.String("action", action),
		zap.String("request_id", requestID),
		zap.String("user_id", userID),
		zap.String("text", text),
	)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:  level,
			Action: action,
			Text:   text,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.log.Warn("audit publish failed", zap.String("action", action), zap.Error(err))
	}
}
