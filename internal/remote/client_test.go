package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/amorlat/funnel-tracking/internal/docstore"
	"github.com/amorlat/funnel-tracking/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore records what the client hands to the backend.
type fakeStore struct {
	failAll bool

	addedEvents []map[string]any
	mergedUsers map[string]map[string]any
	stages      map[string]string
	queried     []docstore.QueryOptions
	records     []docstore.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		mergedUsers: map[string]map[string]any{},
		stages:      map[string]string{},
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) AddEvent(_ context.Context, fields map[string]any) (string, error) {
	if f.failAll {
		return "", errors.New("write rejected")
	}
	f.addedEvents = append(f.addedEvents, fields)
	return "doc-1", nil
}

func (f *fakeStore) MergeUser(_ context.Context, sessionID string, fields map[string]any) error {
	if f.failAll {
		return errors.New("write rejected")
	}
	merged, ok := f.mergedUsers[sessionID]
	if !ok {
		merged = map[string]any{}
		f.mergedUsers[sessionID] = merged
	}
	for k, v := range fields {
		merged[k] = v
	}
	return nil
}

func (f *fakeStore) SetFunnelStage(_ context.Context, sessionID, stage string, extra map[string]any) error {
	if f.failAll {
		return errors.New("write rejected")
	}
	f.stages[sessionID] = stage
	return nil
}

func (f *fakeStore) QueryEvents(_ context.Context, opts docstore.QueryOptions) ([]docstore.Record, error) {
	if f.failAll {
		return nil, errors.New("query rejected")
	}
	f.queried = append(f.queried, opts)
	return f.records, nil
}

type fakeStream struct {
	published []string
	err       error
}

func (f *fakeStream) Publish(key string, _ any) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, key)
	return nil
}

func testEvent() event.Event {
	return event.Event{
		ID:        "evt_1_abc",
		Timestamp: 1700000000000,
		Datetime:  "2023-11-14T22:13:20Z",
		SessionID: "sess_1_xyz",
		EventType: event.TypePageView,
		Page:      "/discover",
		UTMs:      map[string]string{},
	}
}

func TestNotReadyOperationsNoOp(t *testing.T) {
	c := NewClient(Config{}, nil, zap.NewNop())
	ctx := context.Background()

	assert.False(t, c.IsReady())
	assert.Empty(t, c.SaveEvent(ctx, testEvent()))
	assert.False(t, c.SaveUser(ctx, "sess_1", map[string]any{"name": "Ana"}))
	assert.False(t, c.UpdateFunnelStage(ctx, "sess_1", "paywall", nil))
	assert.Empty(t, c.GetEvents(ctx, docstore.QueryOptions{}))
}

func TestSaveEventStripsNilFields(t *testing.T) {
	store := newFakeStore()
	c := NewClient(Config{}, nil, zap.NewNop())
	c.Attach(store)
	require.True(t, c.IsReady())

	ev := testEvent()
	ev.Extra = map[string]any{"destination_url": nil, "cta_id": "hero"}

	id := c.SaveEvent(context.Background(), ev)
	assert.Equal(t, "doc-1", id)

	require.Len(t, store.addedEvents, 1)
	fields := store.addedEvents[0]
	assert.NotContains(t, fields, "destination_url")
	assert.NotContains(t, fields, "referrer") // nil referrer stripped
	assert.Equal(t, "hero", fields["cta_id"])
	assert.Equal(t, "sess_1_xyz", fields["session_id"])
}

func TestSaveEventFailureSwallowed(t *testing.T) {
	store := newFakeStore()
	store.failAll = true
	c := NewClient(Config{}, nil, zap.NewNop())
	c.Attach(store)

	assert.NotPanics(t, func() {
		assert.Empty(t, c.SaveEvent(context.Background(), testEvent()))
	})
}

func TestSaveEventMirrorsToStream(t *testing.T) {
	store := newFakeStore()
	stream := &fakeStream{}
	c := NewClient(Config{}, stream, zap.NewNop())
	c.Attach(store)

	c.SaveEvent(context.Background(), testEvent())
	assert.Equal(t, []string{"sess_1_xyz"}, stream.published)
}

func TestSaveEventStreamFailureDoesNotAffectResult(t *testing.T) {
	store := newFakeStore()
	stream := &fakeStream{err: errors.New("broker down")}
	c := NewClient(Config{}, stream, zap.NewNop())
	c.Attach(store)

	assert.Equal(t, "doc-1", c.SaveEvent(context.Background(), testEvent()))
}

func TestSaveUserDefaultsAndSanitizes(t *testing.T) {
	store := newFakeStore()
	c := NewClient(Config{DefaultCountry: "MX", Language: "es"}, nil, zap.NewNop())
	c.Attach(store)

	ok := c.SaveUser(context.Background(), "sess_1", map[string]any{
		"name":     "Ana",
		"password": "secreta",
	})
	require.True(t, ok)

	merged := store.mergedUsers["sess_1"]
	assert.Equal(t, "Ana", merged["name"])
	assert.Equal(t, "MX", merged["country"])
	assert.Equal(t, "es", merged["language"])
	assert.NotContains(t, merged, "password")
}

func TestSaveUserKeepsExplicitCountry(t *testing.T) {
	store := newFakeStore()
	c := NewClient(Config{DefaultCountry: "MX"}, nil, zap.NewNop())
	c.Attach(store)

	c.SaveUser(context.Background(), "sess_1", map[string]any{"country": "BR"})
	assert.Equal(t, "BR", store.mergedUsers["sess_1"]["country"])
}

func TestUpdateFunnelStage(t *testing.T) {
	store := newFakeStore()
	c := NewClient(Config{}, nil, zap.NewNop())
	c.Attach(store)

	require.True(t, c.UpdateFunnelStage(context.Background(), "sess_1", "checkout", nil))
	assert.Equal(t, "checkout", store.stages["sess_1"])
}

func TestGetEventsDefaultsLimit(t *testing.T) {
	store := newFakeStore()
	store.records = []docstore.Record{{"event_type": "page_view"}}
	c := NewClient(Config{}, nil, zap.NewNop())
	c.Attach(store)

	records := c.GetEvents(context.Background(), docstore.QueryOptions{Country: "MX"})
	require.Len(t, records, 1)
	require.Len(t, store.queried, 1)
	assert.Equal(t, DefaultQueryLimit, store.queried[0].Limit)
	assert.Equal(t, "MX", store.queried[0].Country)
}

func TestGetEventsFailureReturnsEmpty(t *testing.T) {
	store := newFakeStore()
	store.failAll = true
	c := NewClient(Config{}, nil, zap.NewNop())
	c.Attach(store)

	records := c.GetEvents(context.Background(), docstore.QueryOptions{})
	assert.NotNil(t, records)
	assert.Empty(t, records)
}
