package ws

import (
	"context"
	"time"

	"buddy-chat/internal/observability"
)

const wsRoutingKey = "ws_events.im"

// publishWSEvent emits a lifecycle envelope on the bus and counts it.
func publishWSEvent(ctx context.Context, info ConnInfo, userID int, event, reason string) {
	observability.IncWSEvent(event)

	var uid any
	if userID != 0 {
		uid = userID
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   uid,
			"device_id": info.DeviceID,
			"ip":        info.IP,
			"origin":    info.Origin,
		},
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
