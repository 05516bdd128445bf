package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/monitoring"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if err := mockArgs.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(mockArgs.String(0))
	}
	return cmd
}

type MockOutboxStore struct {
	mock.Mock
}

func (m *MockOutboxStore) Pending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxStore) MarkPublished(ctx context.Context, id uuid.UUID, entryID string) error {
	return m.Called(ctx, id, entryID).Error(0)
}

func (m *MockOutboxStore) ScheduleRetry(ctx context.Context, id uuid.UUID, cause error) (string, error) {
	args := m.Called(ctx, id, cause)
	return args.String(0), args.Error(1)
}

func productEvent(t *testing.T, site, title string) *OutboxEvent {
	t.Helper()

	p := models.NewProduct("https://www.tauste.com.br/vinhos?p=2", 2, "vinhos")
	p.Title = title
	p.Price = "R$ 89,90"
	p.ImagePath = "imagens_produtos/" + title + ".jpg"
	p.ScrapedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	event, err := NewProductEvent(uuid.New(), site, DefaultStream, p)
	require.NoError(t, err)
	event.ID = uuid.New()
	return event
}

func newTestRelay(outbox OutboxStore, redisClient RedisClient, config RelayConfig) (*Relay, *monitoring.Metrics) {
	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	return NewRelay(outbox, redisClient, metrics, slog.Default(), config), metrics
}

func TestRelay_PublishesProductFields(t *testing.T) {
	ctx := context.Background()
	store := new(MockOutboxStore)
	rdb := new(MockRedisClient)
	relay, metrics := newTestRelay(store, rdb, RelayConfig{BatchSize: 10})

	event := productEvent(t, "tauste", "Malbec Reserva")
	store.On("Pending", ctx, 10).Return([]*OutboxEvent{event}, nil).Once()

	rdb.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		v := args.Values.(map[string]any)
		return args.Stream == DefaultStream &&
			args.MaxLen == 0 &&
			v["event_id"] == event.ID.String() &&
			v["product_id"] == event.ProductID.String() &&
			v["site"] == "tauste" &&
			v["category"] == "vinhos" &&
			v["title"] == "Malbec Reserva" &&
			v["price"] == "R$ 89,90" &&
			v["page"] == 2 &&
			v["extracted_at"] == "2024-05-01T12:00:00Z" &&
			v["payload"] == string(event.Payload)
	})).Return("1714564800000-0", nil)
	store.On("MarkPublished", ctx, event.ID, "1714564800000-0").Return(nil)

	n, err := relay.publishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rdb.AssertExpectations(t)
	store.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OutboxTotal.WithLabelValues("tauste", OutboxPublished)))
}

func TestRelay_PerSiteStreamsAndTrimming(t *testing.T) {
	ctx := context.Background()
	store := new(MockOutboxStore)
	rdb := new(MockRedisClient)
	relay, _ := newTestRelay(store, rdb, RelayConfig{BatchSize: 10, MaxLen: 5000, PerSiteStreams: true})

	tauste := productEvent(t, "tauste", "Malbec")
	ml := productEvent(t, "mercadolivre", "Cafeteira")
	store.On("Pending", ctx, 10).Return([]*OutboxEvent{tauste, ml}, nil).Once()

	var streams []string
	rdb.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		return args.MaxLen == 5000 && args.Approx
	})).Run(func(args mock.Arguments) {
		streams = append(streams, args.Get(1).(*redis.XAddArgs).Stream)
	}).Return("1-0", nil)
	store.On("MarkPublished", ctx, mock.Anything, "1-0").Return(nil)

	_, err := relay.publishBatch(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{DefaultStream + ":tauste", DefaultStream + ":mercadolivre"}, streams)
}

func TestRelay_FailedPublishIsRetried(t *testing.T) {
	ctx := context.Background()
	store := new(MockOutboxStore)
	rdb := new(MockRedisClient)
	relay, metrics := newTestRelay(store, rdb, RelayConfig{BatchSize: 10})

	first := productEvent(t, "tauste", "Malbec")
	second := productEvent(t, "tauste", "Cabernet")
	store.On("Pending", ctx, 10).Return([]*OutboxEvent{first, second}, nil).Once()

	rdb.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		return args.Values.(map[string]any)["title"] == "Malbec"
	})).Return("", errors.New("connection refused"))
	store.On("ScheduleRetry", ctx, first.ID, mock.MatchedBy(func(err error) bool {
		return err.Error() == "failed to publish to redis: connection refused"
	})).Return(OutboxRetrying, nil)

	rdb.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		return args.Values.(map[string]any)["title"] == "Cabernet"
	})).Return("2-0", nil)
	store.On("MarkPublished", ctx, second.ID, "2-0").Return(nil)

	n, err := relay.publishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	store.AssertExpectations(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OutboxTotal.WithLabelValues("tauste", OutboxRetrying)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OutboxTotal.WithLabelValues("tauste", OutboxPublished)))
}

func TestRelay_RejectsMismatchedPayload(t *testing.T) {
	ctx := context.Background()
	store := new(MockOutboxStore)
	rdb := new(MockRedisClient)
	relay, metrics := newTestRelay(store, rdb, RelayConfig{BatchSize: 10})

	event := productEvent(t, "tauste", "Malbec")
	event.ProductID = uuid.New()
	broken := productEvent(t, "tauste", "Rosé")
	broken.Payload = json.RawMessage(`"not an object"`)

	store.On("Pending", ctx, 10).Return([]*OutboxEvent{event, broken}, nil).Once()
	store.On("ScheduleRetry", ctx, mock.Anything, mock.MatchedBy(func(err error) bool {
		return errors.Is(err, ErrInvalidEvent)
	})).Return(OutboxDeadLetter, nil).Twice()

	_, err := relay.publishBatch(ctx)
	require.NoError(t, err)

	rdb.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	store.AssertExpectations(t)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.OutboxTotal.WithLabelValues("tauste", OutboxDeadLetter)))
}

func TestRelay_DrainReadsUntilShortBatch(t *testing.T) {
	ctx := context.Background()
	store := new(MockOutboxStore)
	rdb := new(MockRedisClient)
	relay, _ := newTestRelay(store, rdb, RelayConfig{BatchSize: 2})

	full := []*OutboxEvent{productEvent(t, "tauste", "A"), productEvent(t, "tauste", "B")}
	short := []*OutboxEvent{productEvent(t, "tauste", "C")}

	store.On("Pending", ctx, 2).Return(full, nil).Once()
	store.On("Pending", ctx, 2).Return(short, nil).Once()
	rdb.On("XAdd", ctx, mock.Anything).Return("1-0", nil)
	store.On("MarkPublished", ctx, mock.Anything, "1-0").Return(nil)

	relay.drain(ctx)

	store.AssertNumberOfCalls(t, "Pending", 2)
	store.AssertNumberOfCalls(t, "MarkPublished", 3)
}

func TestRelay_DrainStopsOnStoreError(t *testing.T) {
	ctx := context.Background()
	store := new(MockOutboxStore)
	relay, _ := newTestRelay(store, new(MockRedisClient), RelayConfig{BatchSize: 2})

	store.On("Pending", ctx, 2).Return(nil, errors.New("pool closed")).Once()

	relay.drain(ctx)
	store.AssertNumberOfCalls(t, "Pending", 1)
}

func TestRelay_StartStopsOnCancel(t *testing.T) {
	store := new(MockOutboxStore)
	relay, _ := newTestRelay(store, new(MockRedisClient), RelayConfig{PollInterval: 20 * time.Millisecond, BatchSize: 10})

	store.On("Pending", mock.Anything, 10).Return([]*OutboxEvent{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- relay.Start(ctx)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
}

func TestNewRelayDefaults(t *testing.T) {
	relay := NewRelay(new(MockOutboxStore), new(MockRedisClient), nil, slog.Default(), RelayConfig{})

	assert.Equal(t, 5*time.Second, relay.interval)
	assert.Equal(t, 100, relay.batchSize)
	assert.Zero(t, relay.maxLen)
	assert.Equal(t, DefaultStream, relay.streamFor(&OutboxEvent{Site: "tauste"}))
}
