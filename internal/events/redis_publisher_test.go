package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

func TestRedisPublisher_Publish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	publisher := NewRedisPublisher(db, "helpdesk:events")

	event := Event{
		ID:        "evt-1",
		Type:      EventTicketStatusChanged,
		TicketID:  "t-1",
		Actor:     Actor{ID: "u-1", Role: domain.RoleTech},
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload: TicketStatusChangedPayload{
			OldStatus: domain.TicketStatusOpen,
			NewStatus: domain.TicketStatusInProgress,
		},
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	mock.ExpectPublish("helpdesk:events", body).SetVal(1)

	require.NoError(t, publisher.Publish(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisPublisher_PublishError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	publisher := NewRedisPublisher(db, "helpdesk:events")

	event := Event{ID: "evt-2", Type: EventUserUpdated}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	mock.ExpectPublish("helpdesk:events", body).SetErr(errors.New("connection refused"))

	err = publisher.Handler()(context.Background(), event)
	assert.ErrorContains(t, err, "publish event user_updated")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisPublisher_NilClient(t *testing.T) {
	publisher := NewRedisPublisher(nil, "helpdesk:events")
	assert.Nil(t, publisher)
	assert.NoError(t, publisher.Publish(context.Background(), Event{}))
}
