package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu    sync.Mutex
	ids   []string
	fail  bool
	calls int
}

func (h *recordingHandler) Handle(_ context.Context, msg redis.XMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.fail {
		return errors.New("boom")
	}
	h.ids = append(h.ids, msg.ID)
	return nil
}

func newStreamConsumer(t *testing.T, handler MessageHandler) (*Consumer, *redis.Client) {
	t.Helper()
	c, client, _ := newStreamConsumerWithServer(t, handler)
	return c, client
}

func newStreamConsumerWithServer(t *testing.T, handler MessageHandler) (*Consumer, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	c := NewConsumer(client, "mail:outbox", "mailers", "test", time.Minute, zerolog.Nop(), handler)
	c.block = 10 * time.Millisecond
	return c, client, srv
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	c, _ := newStreamConsumer(t, &recordingHandler{})
	ctx := context.Background()

	require.NoError(t, c.EnsureGroup(ctx))
	require.NoError(t, c.EnsureGroup(ctx))
}

func TestReadAcksHandledEntries(t *testing.T) {
	handler := &recordingHandler{}
	c, client := newStreamConsumer(t, handler)
	ctx := context.Background()
	require.NoError(t, c.EnsureGroup(ctx))

	id, err := client.XAdd(ctx, &redis.XAddArgs{Stream: "mail:outbox", Values: map[string]any{"payload": "{}"}}).Result()
	require.NoError(t, err)

	require.NoError(t, c.read(ctx))
	assert.Equal(t, []string{id}, handler.ids)

	pending, err := client.XPending(ctx, "mail:outbox", "mailers").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestReadLeavesFailedEntriesPending(t *testing.T) {
	handler := &recordingHandler{fail: true}
	c, client := newStreamConsumer(t, handler)
	ctx := context.Background()
	require.NoError(t, c.EnsureGroup(ctx))

	_, err := client.XAdd(ctx, &redis.XAddArgs{Stream: "mail:outbox", Values: map[string]any{"payload": "{}"}}).Result()
	require.NoError(t, err)

	require.NoError(t, c.read(ctx))

	pending, err := client.XPending(ctx, "mail:outbox", "mailers").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending.Count)
}

func TestClaimStalledDropsAfterMaxDeliveries(t *testing.T) {
	handler := &recordingHandler{fail: true}
	c, client, srv := newStreamConsumerWithServer(t, handler)
	c.maxDeliveries = 3
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	srv.SetTime(now)
	require.NoError(t, c.EnsureGroup(ctx))

	_, err := client.XAdd(ctx, &redis.XAddArgs{Stream: "mail:outbox", Values: map[string]any{"payload": "{}"}}).Result()
	require.NoError(t, err)
	require.NoError(t, c.read(ctx))

	for i := 0; i < 3; i++ {
		now = now.Add(2 * time.Minute)
		srv.SetTime(now)
		require.NoError(t, c.claimStalled(ctx))
	}

	assert.Equal(t, 3, handler.calls)
	pending, err := client.XPending(ctx, "mail:outbox", "mailers").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

type fakeFetcher struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (f *fakeFetcher) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		f.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := f.msgs[0]
	f.msgs = f.msgs[1:]
	return msg, nil
}

func (f *fakeFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeFetcher) Close() error { return nil }

type flakyPayloads struct {
	failures map[string]int
	seen     []string
}

func (h *flakyPayloads) Process(_ context.Context, payload []byte) error {
	key := string(payload)
	if h.failures[key] > 0 {
		h.failures[key]--
		return errors.New("transient")
	}
	h.seen = append(h.seen, key)
	return nil
}

func TestKafkaConsumerRetriesThenCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &fakeFetcher{
		msgs:   []kafka.Message{{Offset: 1, Value: []byte("a")}, {Offset: 2, Value: []byte("b")}},
		cancel: cancel,
	}
	handler := &flakyPayloads{failures: map[string]int{"a": 2}}
	c := &KafkaConsumer{reader: fetcher, logger: zerolog.Nop(), handler: handler, backoff: time.Millisecond, maxAttempts: 5}

	err := c.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a", "b"}, handler.seen)
	assert.Equal(t, []int64{1, 2}, fetcher.committed)
}

func TestKafkaConsumerSkipsPoisonMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &fakeFetcher{msgs: []kafka.Message{{Offset: 7, Value: []byte("bad")}}, cancel: cancel}
	handler := &flakyPayloads{failures: map[string]int{"bad": 100}}
	c := &KafkaConsumer{reader: fetcher, logger: zerolog.Nop(), handler: handler, backoff: time.Millisecond, maxAttempts: 3}

	_ = c.Start(ctx)
	assert.Empty(t, handler.seen)
	assert.Equal(t, []int64{7}, fetcher.committed)
	assert.Equal(t, 97, handler.failures["bad"])
}
