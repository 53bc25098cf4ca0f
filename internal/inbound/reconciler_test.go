package inbound

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-menu-backend/internal/domain"
	"github.com/tbourn/go-menu-backend/internal/repo"
	"github.com/tbourn/go-menu-backend/internal/whatsapp"
)

type memStore struct {
	mu      sync.Mutex
	marks   map[string]Watermark
	saveErr error
	saves   int
}

func newMemStore(keys ...string) *memStore {
	s := &memStore{marks: map[string]Watermark{}}
	for _, k := range keys {
		s.marks[k] = Watermark{}
	}
	return s
}

func (s *memStore) Load(_ context.Context, key string) (Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.marks[key]
	if !ok {
		return Watermark{}, repo.ErrNotFound
	}
	return wm, nil
}

func (s *memStore) Save(_ context.Context, key string, wm Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.marks[key] = wm
	return nil
}

type recorder struct {
	mu     sync.Mutex
	got    []string
	failOn map[string]error
}

func (r *recorder) Handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failOn[ev.MessageID]; err != nil {
		return err
	}
	r.got = append(r.got, ev.MessageID)
	return nil
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func msg(id string, ts int64) whatsapp.Message {
	return whatsapp.Message{
		Key:              whatsapp.MessageKey{RemoteJid: "5511999990000@s.whatsapp.net", ID: id},
		MessageTimestamp: whatsapp.Timestamp(ts),
	}
}

func newReconciler(store Store, h Handler) *Reconciler {
	return &Reconciler{
		Store:    store,
		Locker:   NewLocalLocker(),
		Handler:  h,
		NotFound: func(err error) bool { return errors.Is(err, repo.ErrNotFound) },
	}
}

func TestIngest_SameMessageWebhookThenPoll_HandedOffOnce(t *testing.T) {
	store := newMemStore("inst")
	rec := &recorder{}
	r := newReconciler(store, rec)
	ctx := context.Background()
	now := time.Now()

	out, err := r.Ingest(ctx, NewEvent("inst", msg("M1", 1000), SourceWebhook, now))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, out)

	res, err := r.IngestBatch(ctx, "inst", []Event{NewEvent("inst", msg("M1", 1000), SourcePoll, now)})
	require.NoError(t, err)
	assert.Equal(t, []Result{{MessageID: "M1", Outcome: OutcomeDuplicate}}, res)

	assert.Equal(t, []string{"M1"}, rec.ids())
}

func TestIngest_UntimedWebhookThenTimedPoll_HandedOffOnce(t *testing.T) {
	store := newMemStore()
	store.marks["inst"] = Watermark{At: time.Unix(1000, 0).UTC()} // seeded at connect
	rec := &recorder{}
	r := newReconciler(store, rec)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2"} {
		out, err := r.Ingest(ctx, NewEvent("inst", msg(id, 0), SourceWebhook, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, OutcomeDelivered, out)
	}

	res, err := r.IngestBatch(ctx, "inst", []Event{
		NewEvent("inst", msg("m1", 1001), SourcePoll, time.Now()),
		NewEvent("inst", msg("m2", 1002), SourcePoll, time.Now()),
	})
	require.NoError(t, err)
	assert.Equal(t, []Result{
		{MessageID: "m1", Outcome: OutcomeDuplicate},
		{MessageID: "m2", Outcome: OutcomeDuplicate},
	}, res)
	assert.Equal(t, []string{"m1", "m2"}, rec.ids())
}

func TestIngest_TimedPollThenLateUntimedWebhook_HandedOffOnce(t *testing.T) {
	store := newMemStore("inst")
	rec := &recorder{}
	r := newReconciler(store, rec)
	ctx := context.Background()

	_, err := r.IngestBatch(ctx, "inst", []Event{
		NewEvent("inst", msg("m1", 1001), SourcePoll, time.Now()),
		NewEvent("inst", msg("m2", 1002), SourcePoll, time.Now()),
	})
	require.NoError(t, err)

	out, err := r.Ingest(ctx, NewEvent("inst", msg("m1", 0), SourceWebhook, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	assert.Equal(t, []string{"m1", "m2"}, rec.ids())
}

func TestIngest_UntimedWebhooksKeepRecentBounded(t *testing.T) {
	store := newMemStore("inst")
	r := newReconciler(store, &recorder{})
	ctx := context.Background()

	for i := 0; i < RecentCapacity+10; i++ {
		_, err := r.Ingest(ctx, NewEvent("inst", msg(fmt.Sprintf("w%d", i), 0), SourceWebhook, time.Now()))
		require.NoError(t, err)
	}
	wm, _ := store.Load(ctx, "inst")
	assert.Len(t, wm.Recent, RecentCapacity)
}

func TestIngestBatch_OutOfOrderPageDeliveredChronologically(t *testing.T) {
	store := newMemStore("inst")
	rec := &recorder{}
	r := newReconciler(store, rec)
	now := time.Now()

	page := []Event{
		NewEvent("inst", msg("t3", 3000), SourcePoll, now),
		NewEvent("inst", msg("t1", 1000), SourcePoll, now),
		NewEvent("inst", msg("t2", 2000), SourcePoll, now),
	}
	res, err := r.IngestBatch(context.Background(), "inst", page)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, rec.ids())
	for _, x := range res {
		assert.Equal(t, OutcomeDelivered, x.Outcome)
	}

	wm, _ := store.Load(context.Background(), "inst")
	assert.Equal(t, "t3", wm.MessageID)

	// The same window fetched again on the next cycle changes nothing.
	_, err = r.IngestBatch(context.Background(), "inst", page)
	require.NoError(t, err)
	assert.Len(t, rec.ids(), 3)
}

func TestIngest_LateOlderMessageIsStale(t *testing.T) {
	store := newMemStore("inst")
	rec := &recorder{}
	r := newReconciler(store, rec)
	ctx := context.Background()

	_, err := r.Ingest(ctx, NewEvent("inst", msg("new", 2000), SourceWebhook, time.Now()))
	require.NoError(t, err)
	out, err := r.Ingest(ctx, NewEvent("inst", msg("old", 1000), SourcePoll, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, out)
	assert.Equal(t, []string{"new"}, rec.ids())
}

func TestIngest_SameSecondMessagesBothDelivered(t *testing.T) {
	store := newMemStore("inst")
	rec := &recorder{}
	r := newReconciler(store, rec)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "a", "b"} {
		_, err := r.Ingest(ctx, NewEvent("inst", msg(id, 5000), SourceWebhook, time.Now()))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b"}, rec.ids())
}

func TestIngest_HandoffFailureKeepsWatermark(t *testing.T) {
	store := newMemStore("inst")
	rec := &recorder{failOn: map[string]error{"t2": errors.New("broker down")}}
	r := newReconciler(store, rec)
	ctx := context.Background()
	now := time.Now()

	page := []Event{
		NewEvent("inst", msg("t1", 1000), SourcePoll, now),
		NewEvent("inst", msg("t2", 2000), SourcePoll, now),
		NewEvent("inst", msg("t3", 3000), SourcePoll, now),
	}
	res, err := r.IngestBatch(ctx, "inst", page)
	require.Error(t, err)
	assert.Equal(t, []Result{
		{MessageID: "t1", Outcome: OutcomeDelivered},
		{MessageID: "t2", Outcome: OutcomeFailed},
		{MessageID: "t3", Outcome: OutcomeFailed},
	}, res)
	wm, _ := store.Load(ctx, "inst")
	assert.Equal(t, "t1", wm.MessageID, "watermark must stop before the failed message")

	// Next cycle, the pipeline has recovered.
	rec.failOn = nil
	_, err = r.IngestBatch(ctx, "inst", page)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2", "t3"}, rec.ids())
}

func TestIngest_SaveFailureReportsError(t *testing.T) {
	store := newMemStore("inst")
	store.saveErr = errors.New("db locked")
	rec := &recorder{}
	r := newReconciler(store, rec)

	out, err := r.Ingest(context.Background(), NewEvent("inst", msg("m", 1), SourceWebhook, time.Now()))
	require.Error(t, err)
	assert.Equal(t, OutcomeDelivered, out)
	wm, _ := store.Load(context.Background(), "inst")
	assert.True(t, wm.IsEmpty())
}

func TestIngest_IgnoredAndUnknown(t *testing.T) {
	store := newMemStore("inst")
	rec := &recorder{}
	r := newReconciler(store, rec)
	ctx := context.Background()

	mine := msg("x", 1)
	mine.Key.FromMe = true
	out, err := r.Ingest(ctx, NewEvent("inst", mine, SourceWebhook, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)

	out, err = r.Ingest(ctx, NewEvent("inst", msg("", 1), SourceWebhook, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)

	out, err = r.Ingest(ctx, NewEvent("ghost", msg("y", 1), SourceWebhook, time.Now()))
	require.ErrorIs(t, err, ErrUnknownInstance)
	assert.Equal(t, OutcomeFailed, out)
	assert.Empty(t, rec.ids())
}

func TestIngest_MissingTimestampDedupedById(t *testing.T) {
	store := newMemStore("inst")
	rec := &recorder{}
	r := newReconciler(store, rec)
	ctx := context.Background()

	_, err := r.Ingest(ctx, NewEvent("inst", msg("first", 1000), SourceWebhook, time.Now()))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := r.Ingest(ctx, NewEvent("inst", msg("no-ts", 0), SourcePoll, time.Now().Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"first", "no-ts"}, rec.ids())
}

func TestIngest_ConcurrentSourcesSingleHandoff(t *testing.T) {
	store := newMemStore("inst")
	rec := &recorder{}
	r := newReconciler(store, rec)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		src := SourceWebhook
		if i%2 == 0 {
			src = SourcePoll
		}
		go func(src Source) {
			defer wg.Done()
			_, _ = r.Ingest(context.Background(), NewEvent("inst", msg("dup", 42), src, time.Now()))
		}(src)
	}
	wg.Wait()
	assert.Equal(t, []string{"dup"}, rec.ids())
}

func TestIngest_InstancesAreIsolated(t *testing.T) {
	store := newMemStore("a", "b")
	rec := &recorder{failOn: map[string]error{"a1": errors.New("boom")}}
	r := newReconciler(store, rec)
	ctx := context.Background()

	_, err := r.Ingest(ctx, NewEvent("a", msg("a1", 1), SourceWebhook, time.Now()))
	require.Error(t, err)
	out, err := r.Ingest(ctx, NewEvent("b", msg("b1", 1), SourceWebhook, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, out)
}

func newInboundDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:inbound_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestGormStore_WatermarkSurvivesRestart(t *testing.T) {
	db := newInboundDB(t)
	ctx := context.Background()
	st, err := repo.CreateStore(ctx, db, "durable", "Durable")
	require.NoError(t, err)
	require.NoError(t, repo.CreateInstance(ctx, db, &domain.WhatsAppInstance{
		StoreID: st.ID, InstanceKey: "inst", APIToken: "t", APIHost: "h", Status: domain.InstanceConnected,
	}))

	rec := &recorder{}
	first := newReconciler(GormStore{DB: db}, rec)
	_, err = first.Ingest(ctx, NewEvent("inst", msg("m1", 1000), SourceWebhook, time.Now()))
	require.NoError(t, err)
	_, err = first.Ingest(ctx, NewEvent("inst", msg("m2", 0), SourceWebhook, time.Now()))
	require.NoError(t, err)

	// A fresh reconciler, as after a process restart, sees the same watermark.
	second := newReconciler(GormStore{DB: db}, rec)
	out, err := second.Ingest(ctx, NewEvent("inst", msg("m1", 1000), SourcePoll, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out)
	out, err = second.Ingest(ctx, NewEvent("inst", msg("m2", 1005), SourcePoll, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, out, "recent ids are persisted with the watermark")
	assert.Equal(t, []string{"m1", "m2"}, rec.ids())

	_, err = second.Ingest(ctx, NewEvent("missing", msg("z", 1), SourceWebhook, time.Now()))
	require.ErrorIs(t, err, ErrUnknownInstance)
}
