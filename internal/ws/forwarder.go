package ws

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"taleforge-server/internal/messaging"
	"taleforge-server/internal/models"
)

// UpdateForwarder consumes the client updates queue and pushes each payload
// to the hub subscribers of its story.
type UpdateForwarder struct {
	hub    *Hub
	logger *zap.Logger
}

var _ messaging.DeliveryHandler = (*UpdateForwarder)(nil)

func NewUpdateForwarder(hub *Hub, logger *zap.Logger) *UpdateForwarder {
	return &UpdateForwarder{hub: hub, logger: logger.Named("update_forwarder")}
}

func (f *UpdateForwarder) HandleDelivery(_ context.Context, delivery amqp.Delivery) bool {
	var update models.ClientUpdate
	if err := json.Unmarshal(delivery.Body, &update); err != nil {
		f.logger.Error("Failed to unmarshal client update, rejecting", zap.Error(err))
		return false
	}
	sent := f.hub.BroadcastToStory(update.StoryID, delivery.Body)
	f.logger.Debug("Client update forwarded",
		zap.String("story_id", update.StoryID.String()),
		zap.String("event", update.EventType),
		zap.Int("subscribers", sent))
	return true
}
