package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"efiling/internal/filing/scanner"
	"efiling/internal/notification"
	"efiling/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockScanner struct {
	mock.Mock
}

func (m *mockScanner) Scan(ctx context.Context, lookahead time.Duration) (*scanner.Result, error) {
	args := m.Called(ctx, lookahead)
	res, _ := args.Get(0).(*scanner.Result)
	return res, args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, n *notification.Notification) error {
	return m.Called(ctx, n).Error(0)
}

func TestSLAHandler_UsesPayloadLookahead(t *testing.T) {
	s := &mockScanner{}
	s.On("Scan", mock.Anything, 15*time.Minute).Return(&scanner.Result{FilesChecked: 2, NotificationsSent: 1}, nil).Once()
	h := NewSLAHandler(s, time.Hour, zaptest.NewLogger(t))

	task, err := tasks.NewScanWarningsTask(15 * time.Minute)
	require.NoError(t, err)
	require.NoError(t, h.HandleScanWarnings(context.Background(), task))
	s.AssertExpectations(t)
}

func TestSLAHandler_DefaultLookaheadAndError(t *testing.T) {
	boom := errors.New("db down")
	s := &mockScanner{}
	s.On("Scan", mock.Anything, time.Hour).Return(nil, boom).Once()
	h := NewSLAHandler(s, time.Hour, zaptest.NewLogger(t))

	err := h.HandleScanWarnings(context.Background(), asynq.NewTask(tasks.TypeScanWarnings, nil))
	assert.ErrorIs(t, err, boom)
	s.AssertExpectations(t)
}

func TestSLAHandler_InvalidPayloadSkipsRetry(t *testing.T) {
	s := &mockScanner{}
	h := NewSLAHandler(s, time.Hour, zaptest.NewLogger(t))

	err := h.HandleScanWarnings(context.Background(), asynq.NewTask(tasks.TypeScanWarnings, []byte("not-json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	s.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
}

func TestNotificationHandler(t *testing.T) {
	n := &mockNotifier{}
	n.On("Send", mock.Anything, mock.MatchedBy(func(msg *notification.Notification) bool {
		return msg.To == "ceo@example.org" && msg.Type == notification.ChannelEmail
	})).Return(nil).Once()
	h := NewNotificationHandler(n, zaptest.NewLogger(t))

	task, err := tasks.NewDeliverNotificationTask(&notification.Notification{
		Type: notification.ChannelEmail, To: "ceo@example.org", Subject: "待办",
	})
	require.NoError(t, err)
	require.NoError(t, h.HandleDeliver(context.Background(), task))
	n.AssertExpectations(t)
}

func TestNotificationHandler_Failures(t *testing.T) {
	smtpErr := errors.New("smtp timeout")
	n := &mockNotifier{}
	n.On("Send", mock.Anything, mock.Anything).Return(smtpErr).Once()
	h := NewNotificationHandler(n, zaptest.NewLogger(t))

	payload, _ := json.Marshal(tasks.DeliverNotificationPayload{
		Notification: notification.Notification{Type: notification.ChannelWebhook},
	})
	err := h.HandleDeliver(context.Background(), asynq.NewTask(tasks.TypeDeliverNotification, payload))
	assert.ErrorIs(t, err, smtpErr)

	err = h.HandleDeliver(context.Background(), asynq.NewTask(tasks.TypeDeliverNotification, []byte("{}")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	n.AssertExpectations(t)
}
