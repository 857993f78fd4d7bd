package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
)

// NotificationChannel is the delivery medium for a notification.
type NotificationChannel string

const (
	ChannelEmail   NotificationChannel = "email"
	ChannelWebhook NotificationChannel = "webhook"
)

// Audience names who a notification is for. Delivery resolves it to addresses.
type Audience string

const (
	AudienceCustomer Audience = "customer"
	AudienceAssignee Audience = "assignee"
	AudienceStaff    Audience = "staff"
)

// Notification is one planned delivery for an event.
type Notification struct {
	Channel   NotificationChannel
	Audience  Audience
	Recipient string
	TicketID  string
	Subject   string
}

// NotificationService turns committed events into customer and staff
// notifications. Delivery is stubbed: planned notifications are logged.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes the service to every event type.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.SubscribeAll(n.handle)
}

// Forward subscribes handler to every event type, e.g. the Redis publisher.
func (n *NotificationService) Forward(handler events.EventHandler) {
	if n.dispatcher == nil || handler == nil {
		return
	}
	n.dispatcher.SubscribeAll(handler)
}

func (n *NotificationService) handle(ctx context.Context, event events.Event) error {
	n.logger.Info("event received",
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.String("actor_id", event.Actor.ID),
	)
	for _, notification := range PlanNotifications(event) {
		n.deliver(ctx, notification)
	}
	return nil
}

func (n *NotificationService) deliver(_ context.Context, notification Notification) {
	target := ""
	switch notification.Channel {
	case ChannelEmail:
		target = strings.TrimSpace(n.cfg.EmailFrom)
	case ChannelWebhook:
		target = strings.TrimSpace(n.cfg.WebhookURL)
	}
	if target == "" {
		return
	}
	n.logger.Debug("notification",
		zap.String("channel", string(notification.Channel)),
		zap.String("via", target),
		zap.String("audience", string(notification.Audience)),
		zap.String("recipient", notification.Recipient),
		zap.String("ticket_id", notification.TicketID),
		zap.String("subject", notification.Subject),
	)
}

// PlanNotifications decides who hears about event. Actors are never notified
// about their own action, and internal comments never reach the customer.
func PlanNotifications(event events.Event) []Notification {
	staffHook := Notification{
		Channel:  ChannelWebhook,
		Audience: AudienceStaff,
		TicketID: event.TicketID,
		Subject:  string(event.Type),
	}
	byCustomer := event.Actor.Role == domain.RoleCustomer

	switch payload := event.Payload.(type) {
	case events.TicketCreatedPayload:
		return []Notification{
			{
				Channel:   ChannelEmail,
				Audience:  AudienceCustomer,
				Recipient: payload.CustomerID,
				TicketID:  event.TicketID,
				Subject:   "We received your request: " + payload.Title,
			},
			staffHook,
		}
	case events.TicketStatusChangedPayload:
		out := []Notification{staffHook}
		if !byCustomer && customerFacingStatus(payload.NewStatus) {
			out = append(out, Notification{
				Channel:  ChannelEmail,
				Audience: AudienceCustomer,
				TicketID: event.TicketID,
				Subject:  "Your ticket is now " + string(payload.NewStatus),
			})
		}
		return out
	case events.TicketAssignedPayload:
		out := []Notification{staffHook}
		if payload.NewTechID != nil && !payload.Claimed {
			out = append(out, Notification{
				Channel:   ChannelEmail,
				Audience:  AudienceAssignee,
				Recipient: *payload.NewTechID,
				TicketID:  event.TicketID,
				Subject:   "A ticket was assigned to you",
			})
		}
		return out
	case events.TicketCommentAddedPayload:
		if payload.Internal {
			return []Notification{staffHook}
		}
		audience := AudienceCustomer
		if byCustomer {
			audience = AudienceAssignee
		}
		return []Notification{staffHook, {
			Channel:  ChannelEmail,
			Audience: audience,
			TicketID: event.TicketID,
			Subject:  "New reply on your ticket",
		}}
	case events.TicketPriorityChangedPayload, events.TicketCategoryChangedPayload:
		return []Notification{staffHook}
	default:
		return nil
	}
}

func customerFacingStatus(status domain.TicketStatus) bool {
	switch status {
	case domain.TicketStatusWaitingCustomer, domain.TicketStatusResolved,
		domain.TicketStatusClosed, domain.TicketStatusCanceled:
		return true
	}
	return false
}
