package relay

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/taskloop/backend/internal/contracts"
	"go.uber.org/zap"
)

// StartBridge subscribes to the gateway-published task event stream and fans
// each event into the hub, excluding the originating session when the
// mutation request carried one. Only events published while subscribed are
// delivered; there is no replay for late sessions.
func StartBridge(js nats.JetStreamContext, hub *Hub, logger *zap.Logger) (*nats.Subscription, error) {
	return js.Subscribe("task.event.>", func(msg *nats.Msg) {
		var event contracts.TaskEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Warn("discarding malformed task event", zap.Error(err))
			return
		}
		hub.Broadcast(event.SessionID, event.Kind, event.Task)
	}, nats.DeliverNew())
}
