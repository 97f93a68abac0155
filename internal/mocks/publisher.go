package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"convohub/internal/telemetry"
)

// AuditPublisherMock stands in for the broker behind telemetry.AuditEmitter.
type AuditPublisherMock struct {
	mock.Mock
}

func (m *AuditPublisherMock) Publish(_ context.Context, routingKey string, event any) error {
	return m.Called(routingKey, event).Error(0)
}

func (m *AuditPublisherMock) Close() error {
	return nil
}

// ExpectAudit registers one publish on routingKey whose envelope satisfies match.
func (m *AuditPublisherMock) ExpectAudit(routingKey string, match func(telemetry.AuditEnvelope) bool) *mock.Call {
	return m.On("Publish", routingKey, mock.MatchedBy(match)).Return(nil).Once()
}
