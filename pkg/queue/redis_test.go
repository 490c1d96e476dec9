package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalPulse/pkg/logger"
)

type stubJob struct {
	err   error
	calls int
	got   json.RawMessage
}

func (s *stubJob) Name() string { return "stub" }
func (s *stubJob) Type() string { return "stub.run" }
func (s *stubJob) Handle(_ context.Context, payload json.RawMessage) error {
	s.calls++
	s.got = payload
	return s.err
}

var fixed = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestQueue(t *testing.T, job Job, limit int) (*RedisQueue, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	q := NewRedisQueue(logger.Nop(), &QueueConfig{RetryLimit: limit, RetryDelay: 30 * time.Second}, db,
		WithKeyPrefix("t"), WithClock(func() time.Time { return fixed }))
	q.RegisterJob(job)
	return q, mock
}

func encoded(t *testing.T, m Message) string {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return string(b)
}

func TestEnqueueRequiresRegisteredJob(t *testing.T) {
	q, _ := newTestQueue(t, &stubJob{}, 1)
	_, err := q.Enqueue(context.Background(), "unknown", map[string]string{})
	require.Error(t, err)
}

func TestEnqueuePushesMessage(t *testing.T) {
	q, mock := newTestQueue(t, &stubJob{}, 1)
	mock.Regexp().ExpectLPush("t:messages", `"type":"stub.run".*"payload":\{"symbol":"BTCUSDT"\}`).SetVal(1)

	id, err := q.Enqueue(context.Background(), "stub.run", map[string]string{"symbol": "BTCUSDT"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleMessageSuccess(t *testing.T) {
	job := &stubJob{}
	q, mock := newTestQueue(t, job, 1)

	q.handleMessage(context.Background(), Message{ID: "1", Type: "stub.run", Payload: json.RawMessage(`{"a":1}`)})
	assert.Equal(t, 1, job.calls)
	assert.JSONEq(t, `{"a":1}`, string(job.got))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleMessageSchedulesRetryWithHint(t *testing.T) {
	job := &stubJob{err: RetryAfter(errors.New("throttled"), 2*time.Minute)}
	q, mock := newTestQueue(t, job, 2)

	msg := Message{ID: "1", Type: "stub.run", Payload: json.RawMessage(`{}`), Timestamp: fixed}
	want := msg
	want.Attempts = 1
	want.LastError = "throttled"
	mock.ExpectZAdd("t:retry", redis.Z{
		Score:  float64(fixed.Add(2 * time.Minute).Unix()),
		Member: encoded(t, want),
	}).SetVal(1)

	q.handleMessage(context.Background(), msg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleMessageDeadLettersAfterLimit(t *testing.T) {
	job := &stubJob{err: errors.New("boom")}
	q, mock := newTestQueue(t, job, 1)

	msg := Message{ID: "1", Type: "stub.run", Payload: json.RawMessage(`{}`), Attempts: 1, Timestamp: fixed}
	want := msg
	want.LastError = "boom"
	mock.ExpectLPush("t:dlq", encoded(t, want)).SetVal(1)

	q.handleMessage(context.Background(), msg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleMessagePermanentSkipsRetry(t *testing.T) {
	job := &stubJob{err: Permanent(errors.New("bad payload"))}
	q, mock := newTestQueue(t, job, 5)

	msg := Message{ID: "1", Type: "stub.run", Payload: json.RawMessage(`{}`), Timestamp: fixed}
	want := msg
	want.LastError = "bad payload"
	mock.ExpectLPush("t:dlq", encoded(t, want)).SetVal(1)

	q.handleMessage(context.Background(), msg)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoteDue(t *testing.T) {
	q, mock := newTestQueue(t, &stubJob{}, 1)

	mock.ExpectZRangeByScore("t:retry", &redis.ZRangeBy{Min: "0", Max: "1767323045"}).SetVal([]string{"m1"})
	mock.ExpectTxPipeline()
	mock.ExpectZRem("t:retry", "m1").SetVal(1)
	mock.ExpectLPush("t:messages", "m1").SetVal(1)
	mock.ExpectTxPipelineExec()

	assert.Equal(t, 1, q.promoteDue(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParsePayload(t *testing.T) {
	type p struct {
		Symbol string `json:"symbol"`
	}
	out, err := ParsePayload[p](json.RawMessage(`{"symbol":"ETHUSDT"}`))
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", out.Symbol)

	_, err = ParsePayload[p](nil)
	assert.Error(t, err)
}
