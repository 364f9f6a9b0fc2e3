package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// === stdout sink ===

func TestStdoutSinkNeverErrors(t *testing.T) {
	sink := NewStdoutSink()
	err := sink.Notify(context.Background(), "orchestrator", "task t1 completed")
	require.NoError(t, err)
}

// === multi sink fan-out ===

type recordingSink struct {
	name     string
	messages []string
	err      error
}

func (r *recordingSink) Notify(_ context.Context, channel, message string) error {
	r.messages = append(r.messages, channel+":"+message)
	return r.err
}

func TestMultiSinkFansOutToEverySink(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	multi := &MultiSink{Sinks: []Sink{a, b}}

	err := multi.Notify(context.Background(), "orchestrator", "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"orchestrator:hello"}, a.messages)
	assert.Equal(t, []string{"orchestrator:hello"}, b.messages)
}

func TestMultiSinkStillCallsEverySinkOnFailure(t *testing.T) {
	failing := &recordingSink{name: "a", err: errors.New("boom")}
	ok := &recordingSink{name: "b"}
	multi := &MultiSink{Sinks: []Sink{failing, ok}}

	err := multi.Notify(context.Background(), "orchestrator", "hello")
	require.Error(t, err)
	assert.Len(t, ok.messages, 1, "second sink still receives the notification after the first fails")
}

// === redis sink ===

type fakeRedisPublisher struct {
	channel string
	message []byte
	failErr error
}

func (f *fakeRedisPublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message = message.([]byte)
	cmd := redis.NewIntCmd(context.Background())
	if f.failErr != nil {
		cmd.SetErr(f.failErr)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisSinkPublishesOnPrefixedChannel(t *testing.T) {
	fake := &fakeRedisPublisher{}
	sink := NewRedisSink(fake, "")

	err := sink.Notify(context.Background(), "orchestrator", "task t1 blocked")
	require.NoError(t, err)
	assert.Equal(t, "orchestrator:notify:orchestrator", fake.channel)
	assert.Contains(t, string(fake.message), "task t1 blocked")
}

func TestRedisSinkPropagatesPublishError(t *testing.T) {
	fake := &fakeRedisPublisher{failErr: errors.New("connection refused")}
	sink := NewRedisSink(fake, "custom:")

	err := sink.Notify(context.Background(), "orchestrator", "hi")
	require.Error(t, err)
}
