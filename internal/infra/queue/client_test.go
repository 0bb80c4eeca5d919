package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"efiling/internal/notification"
	"efiling/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	got []*notification.Notification
	err error
}

func (f *fakeClient) EnqueueScanWarnings(context.Context, time.Duration) (string, error) {
	return "", nil
}

func (f *fakeClient) EnqueueNotification(_ context.Context, n *notification.Notification) error {
	f.got = append(f.got, n)
	return f.err
}

func (f *fakeClient) Close() error { return nil }

func TestNotifier_Enqueues(t *testing.T) {
	fc := &fakeClient{}
	n := NewNotifier(fc)

	msg := &notification.Notification{Type: notification.ChannelEmail, To: "ceo@example.org", Subject: "待办"}
	require.NoError(t, n.Send(context.Background(), msg))
	require.Len(t, fc.got, 1)
	assert.Same(t, msg, fc.got[0])

	fc.err = errors.New("redis down")
	assert.Error(t, n.Send(context.Background(), msg))
}

func TestTaskPayloads(t *testing.T) {
	task, err := tasks.NewScanWarningsTask(30 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, tasks.TypeScanWarnings, task.Type())

	var p tasks.ScanWarningsPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, 30*time.Minute, p.LookaheadOr(time.Hour))
	assert.Equal(t, time.Hour, tasks.ScanWarningsPayload{}.LookaheadOr(time.Hour))

	_, err = tasks.NewDeliverNotificationTask(nil)
	assert.Error(t, err)
}

type fakeSource map[string]*asynq.QueueInfo

func (f fakeSource) GetQueueInfo(q string) (*asynq.QueueInfo, error) {
	if info, ok := f[q]; ok {
		return info, nil
	}
	return nil, asynq.ErrQueueNotFound
}

func TestInspector_Stats(t *testing.T) {
	in := NewInspectorFrom(fakeSource{
		tasks.QueueSLA:          {Queue: tasks.QueueSLA, Pending: 1, Retry: 2},
		tasks.QueueNotification: {Queue: tasks.QueueNotification, Active: 3, Failed: 4},
	})

	stats, err := in.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, QueueStats{Queue: tasks.QueueSLA, Pending: 1, Retry: 2}, stats[0])
	assert.Equal(t, 3, stats[1].Active)
	assert.Equal(t, 4, stats[1].Failed)
	assert.Equal(t, QueueStats{Queue: tasks.QueueDefault}, stats[2], "未创建的队列计为空")
	assert.NoError(t, in.Close())
}

type brokenSource struct{}

func (brokenSource) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return nil, errors.New("redis down")
}

func TestInspector_PropagatesErrors(t *testing.T) {
	_, err := NewInspectorFrom(brokenSource{}).Stats(context.Background())
	assert.Error(t, err)
}
