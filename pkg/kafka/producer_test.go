package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestPublishEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "snappy")

	err := p.Publish(context.Background(), "signals", []byte("BTCUSDT|15m|binance"), map[string]any{"direction": "buy"})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "signals", w.msgs[0].Topic)
	assert.Equal(t, "BTCUSDT|15m|binance", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"direction":"buy"}`, string(w.msgs[0].Value))
}

func TestPublishMessageRawString(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "snappy")

	require.NoError(t, p.PublishMessage(context.Background(), "logs", "hello"))
	assert.Equal(t, "hello", string(w.msgs[0].Value))
	assert.Nil(t, w.msgs[0].Key)
}

func TestPublishErrorCounted(t *testing.T) {
	p := NewProducerWithWriter(&fakeWriter{err: errors.New("broker down")}, "snappy")

	before := testutil.ToFloat64(producerMsgsTotal.WithLabelValues("errs-topic", "error"))
	err := p.Publish(context.Background(), "errs-topic", nil, "x")
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(producerMsgsTotal.WithLabelValues("errs-topic", "error")))
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
}
