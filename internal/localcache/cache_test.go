package localcache

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/cloverlabs/sessionpool/internal/domain"
	"github.com/cloverlabs/sessionpool/internal/kv"
)

// flakyBlobStore fails the next Get with a transient-looking error, then
// delegates to the wrapped store.
type flakyBlobStore struct {
	kv.Store
	failNext bool
}

func (f *flakyBlobStore) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failNext {
		f.failNext = false
		return "", false, errors.New("SQLITE_BUSY: database is locked")
	}
	return f.Store.Get(ctx, key)
}

func userMsg(text, ts string) domain.Message {
	return domain.Message{Text: text, Timestamp: ts, Speaker: domain.SpeakerUser}
}

func TestCreateSetsActiveAndFirstUserMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := New(kv.NewMemStore(), nil)

	sess, err := cache.Create(ctx, "co-1", "Acme", []domain.Message{
		{Text: "intro", Timestamp: "2026-03-01T10:00:00Z", Speaker: domain.SpeakerAssistant},
		userMsg("help me plan", "2026-03-01T10:00:01Z"),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected generated session id")
	}
	if sess.FirstUserMessage != "help me plan" {
		t.Fatalf("unexpected firstUserMessage: %q", sess.FirstUserMessage)
	}

	active, err := cache.ActiveID(ctx)
	if err != nil || active != sess.ID {
		t.Fatalf("active id = (%q, %v), want %q", active, err, sess.ID)
	}
}

func TestAppendUnknownIDCreatesShell(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := New(kv.NewMemStore(), nil)

	sess, err := cache.Append(ctx, "remote-abc", []domain.Message{userMsg("hello", "")}, nil)
	if err != nil {
		t.Fatalf("Append to unknown id failed: %v", err)
	}
	if sess.ID != "remote-abc" {
		t.Fatalf("shell session kept wrong id: %q", sess.ID)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Text != "hello" {
		t.Fatalf("message not appended: %+v", sess.Messages)
	}
	if _, err := time.Parse(time.RFC3339, sess.Messages[0].Timestamp); err != nil {
		t.Fatalf("timestamp not normalized: %q", sess.Messages[0].Timestamp)
	}
}

func TestAppendBackfillsCompanyContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := New(kv.NewMemStore(), nil)

	sess, err := cache.Create(ctx, "", "", []domain.Message{userMsg("q", "")})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := cache.Append(ctx, sess.ID, []domain.Message{userMsg("more", "")}, &domain.SessionContext{
		CompanyID:   "co-9",
		CompanyName: "Globex",
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if updated.CompanyID != "co-9" || updated.CompanyName != "Globex" {
		t.Fatalf("context not backfilled: %+v", updated)
	}
	if updated.FirstUserMessage != "q" {
		t.Fatalf("firstUserMessage overwritten: %q", updated.FirstUserMessage)
	}
}

func TestListOrdersAndPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := New(kv.NewMemStore(), nil)

	for _, ts := range []string{"2026-01-01T00:00:00Z", "2026-01-03T00:00:00Z", "2026-01-02T00:00:00Z"} {
		if _, err := cache.Create(ctx, "", "", []domain.Message{userMsg("at "+ts, ts)}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	first, hasMore, err := cache.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(first) != 2 || !hasMore {
		t.Fatalf("expected 2 sessions with hasMore, got %d hasMore=%v", len(first), hasMore)
	}
	if first[0].UpdatedAt < first[1].UpdatedAt {
		t.Fatalf("sessions not sorted by updatedAt desc: %q then %q", first[0].UpdatedAt, first[1].UpdatedAt)
	}

	second, _, err := cache.List(ctx, 2)
	if err != nil {
		t.Fatalf("second List failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("List is not idempotent without intervening mutation")
	}

	all, hasMore, err := cache.List(ctx, 10)
	if err != nil || hasMore {
		t.Fatalf("full list: hasMore=%v err=%v", hasMore, err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(all))
	}
}

func TestTransientReadErrorDoesNotDropSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blob := kv.NewMemStore()

	seeded := New(blob, nil)
	old, err := seeded.Create(ctx, "", "", []domain.Message{userMsg("keep me", "")})
	if err != nil {
		t.Fatalf("seed Create failed: %v", err)
	}

	flaky := &flakyBlobStore{Store: blob, failNext: true}
	cache := New(flaky, nil)

	// First hydration attempt fails; the cache must not report itself loaded.
	if _, _, err := cache.List(ctx, 5); err == nil {
		t.Fatal("expected List to surface the transient read error")
	}

	// The store recovers; the next mutation re-hydrates before persisting.
	fresh, err := cache.Create(ctx, "", "", []domain.Message{userMsg("new", "")})
	if err != nil {
		t.Fatalf("Create after recovery failed: %v", err)
	}

	raw, found, err := blob.Get(ctx, SnapshotKey)
	if err != nil || !found {
		t.Fatalf("snapshot missing: found=%v err=%v", found, err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	ids := map[string]bool{}
	for _, sess := range snap.Sessions {
		ids[sess.ID] = true
	}
	if !ids[old.ID] || !ids[fresh.ID] {
		t.Fatalf("persisted snapshot lost a session: have %v, want %q and %q", ids, old.ID, fresh.ID)
	}
}

func TestListNonPositiveLimitReturnsEverything(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := New(kv.NewMemStore(), nil)

	for i := 0; i < 2; i++ {
		if _, err := cache.Create(ctx, "", "", []domain.Message{userMsg("s", "")}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	for _, limit := range []int{0, -1} {
		sessions, hasMore, err := cache.List(ctx, limit)
		if err != nil {
			t.Fatalf("List(%d) failed: %v", limit, err)
		}
		if len(sessions) != 2 || hasMore {
			t.Fatalf("List(%d) = %d sessions, hasMore=%v; want all 2, hasMore=false", limit, len(sessions), hasMore)
		}
	}
}

func TestSnapshotSurvivesRehydration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blob := kv.NewMemStore()

	cache := New(blob, nil)
	sess, err := cache.Create(ctx, "co-1", "Acme", []domain.Message{userMsg("persist me", "")})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// A fresh cache over the same blob store sees the snapshot.
	reloaded := New(blob, nil)
	got, ok, err := reloaded.Get(ctx, sess.ID)
	if err != nil || !ok {
		t.Fatalf("session missing after rehydration: ok=%v err=%v", ok, err)
	}
	if got.FirstUserMessage != "persist me" || got.CompanyName != "Acme" {
		t.Fatalf("rehydrated session lost fields: %+v", got)
	}

	active, err := reloaded.ActiveID(ctx)
	if err != nil || active != sess.ID {
		t.Fatalf("active id lost: (%q, %v)", active, err)
	}
}

func TestLoadDiscardsMalformedSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blob := kv.NewMemStore()
	if err := blob.Set(ctx, SnapshotKey, "{not json"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	cache := New(blob, nil)
	sessions, hasMore, err := cache.List(ctx, 5)
	if err != nil {
		t.Fatalf("List over bad snapshot failed: %v", err)
	}
	if len(sessions) != 0 || hasMore {
		t.Fatalf("expected empty cache, got %d sessions", len(sessions))
	}
}

func TestMergeSummaryUpdatesCachedCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blob := kv.NewMemStore()
	cache := New(blob, nil)

	if err := cache.Put(ctx, domain.Session{
		ID:        "remote-1",
		CreatedAt: "2026-01-01T00:00:00Z",
		UpdatedAt: "2026-01-01T00:00:00Z",
		Messages:  []domain.Message{userMsg("cached", "2026-01-01T00:00:00Z")},
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := cache.MergeSummary(ctx, "remote-1", SummaryMeta{
		UpdatedAt:        "2026-01-05T00:00:00Z",
		CompanyID:        "co-2",
		CompanyName:      "Initech",
		FirstUserMessage: "cached",
	}); err != nil {
		t.Fatalf("MergeSummary failed: %v", err)
	}

	sess, ok, err := cache.Get(ctx, "remote-1")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if sess.UpdatedAt != "2026-01-05T00:00:00Z" || sess.CompanyName != "Initech" {
		t.Fatalf("summary metadata not merged: %+v", sess)
	}
	if len(sess.Messages) != 1 {
		t.Fatalf("merge must not touch messages: %+v", sess.Messages)
	}

	// Unknown ids are ignored without error.
	if err := cache.MergeSummary(ctx, "never-seen", SummaryMeta{UpdatedAt: "2026-01-06T00:00:00Z"}); err != nil {
		t.Fatalf("MergeSummary on unknown id errored: %v", err)
	}

	raw, found, err := blob.Get(ctx, SnapshotKey)
	if err != nil || !found {
		t.Fatalf("snapshot missing: %v", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
}
