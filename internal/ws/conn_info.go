package ws

import "time"

// ConnInfo describes one websocket connection for logs and lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      int64
	DisplayName string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) lifecyclePayload(event, reason string, now time.Time) map[string]any {
	return map[string]any{
		"ws": map[string]any{
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
