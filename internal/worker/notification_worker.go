package worker

import (
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/service"
)

// StartNotificationWorker registers notification handlers and, when Redis is
// configured, forwards every event to the pub/sub channel.
func StartNotificationWorker(notificationService *service.NotificationService, publisher *events.RedisPublisher) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
	if publisher != nil {
		notificationService.Forward(publisher.Handler())
	}
}
