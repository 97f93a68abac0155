package ws

import (
	"time"

	"go.uber.org/zap"
)

// ConnInfo identifies one socket session for lifecycle events, logs and the
// debug listing.
type ConnInfo struct {
	ConnID      string    `json:"connId"`
	UserID      string    `json:"userId"`
	DeviceID    string    `json:"deviceId,omitempty"`
	IP          string    `json:"ip,omitempty"`
	RequestID   string    `json:"requestId,omitempty"`
	TraceID     string    `json:"traceId,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

func (i ConnInfo) Fields() []zap.Field {
	return []zap.Field{
		zap.String("conn_id", i.ConnID),
		zap.String("user_id", i.UserID),
		zap.String("device_id", i.DeviceID),
		zap.String("request_id", i.RequestID),
	}
}

// lifecyclePayload is the body of a ws_events message for this session.
func (i ConnInfo) lifecyclePayload(event, reason string, now time.Time) map[string]any {
	return map[string]any{
		"ws": map[string]any{
			"kind":        wsKind,
			"event":       event,
			"conn_id":     i.ConnID,
			"duration_ms": now.Sub(i.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]any{
			"user_id":   i.UserID,
			"device_id": i.DeviceID,
			"ip":        i.IP,
		},
	}
}

type describer interface {
	Info() ConnInfo
}
