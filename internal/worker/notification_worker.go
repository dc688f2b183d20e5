package worker

import (
	"context"

	"github.com/guildkit/guild-tickets/internal/service"
)

// StartNotificationWorker subscribes the notification service and starts its broker
// relay. The returned channel is closed once the relay has stopped after ctx is done.
func StartNotificationWorker(ctx context.Context, notifications *service.NotificationService) <-chan struct{} {
	done := make(chan struct{})
	if notifications == nil {
		close(done)
		return done
	}
	notifications.RegisterHandlers()
	go func() {
		defer close(done)
		notifications.Run(ctx)
	}()
	return done
}
