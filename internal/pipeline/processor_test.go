package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notification-bridge/internal/ids"
	"github.com/tinywideclouds/go-notification-bridge/internal/pipeline"
	"github.com/tinywideclouds/go-notification-bridge/pkg/notifications"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockPresenter struct {
	mock.Mock
}

func (m *mockPresenter) Present(ctx context.Context, req notifications.Request) error {
	return m.Called(ctx, req).Error(0)
}

func TestProcessor_Presents(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("Stamps id and experience", func(t *testing.T) {
		presenterMock := new(mockPresenter)
		registry := ids.NewRegistry(0)

		presenterMock.On("Present", mock.Anything, mock.MatchedBy(func(req notifications.Request) bool {
			return req.ID == 1 &&
				req.ExperienceID == "@tester/app" &&
				req.Payload["title"] == "Hello" &&
				req.Payload[notifications.PayloadKeyNotificationID] == "1" &&
				req.Payload[notifications.PayloadKeyExperienceID] == "@tester/app"
		})).Return(nil)

		processor := pipeline.NewProcessor(presenterMock, registry, logger)
		remote := &pipeline.RemoteNotification{
			ExperienceID: "@tester/app",
			Data:         notifications.Payload{"title": "Hello"},
		}
		err := processor(ctx, messagepipeline.Message{}, remote)

		require.NoError(t, err)
		presenterMock.AssertExpectations(t)
		assert.True(t, registry.InUse(1))
		_, stamped := remote.Data[notifications.PayloadKeyNotificationID]
		assert.False(t, stamped, "inbound data is not mutated")
	})

	t.Run("Failure releases the id for redelivery", func(t *testing.T) {
		presenterMock := new(mockPresenter)
		registry := ids.NewRegistry(0)

		presenterMock.On("Present", mock.Anything, mock.Anything).Return(assert.AnError)

		processor := pipeline.NewProcessor(presenterMock, registry, logger)
		err := processor(ctx, messagepipeline.Message{}, &pipeline.RemoteNotification{ExperienceID: "@tester/app", Data: notifications.Payload{}})

		assert.ErrorIs(t, err, assert.AnError)
		assert.False(t, registry.InUse(1))
	})
}
