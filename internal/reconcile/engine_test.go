package reconcile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"paper-showcase/database"
	"paper-showcase/internal/domain/details"
	"paper-showcase/internal/domain/session"
	"paper-showcase/internal/infra/durable"
	"paper-showcase/internal/infra/mirror"
	"paper-showcase/internal/infra/snapshot"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

const fixedMs = 1700000000000

var admin = session.New(true)

type fakeRemote struct {
	mu    sync.Mutex
	recs  map[int64]details.Record
	calls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{recs: map[int64]details.Record{}}
}

func (f *fakeRemote) publish(rec details.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[rec.ItemID] = rec.Clone()
}

func (f *fakeRemote) FetchSnapshot(_ context.Context, id int64) (details.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	rec, ok := f.recs[id]
	return rec.Clone(), ok
}

type env struct {
	engine  *Engine
	durable *durable.Store
	mirror  *mirror.Store
	remote  *fakeRemote
}

func newEnv(t *testing.T, quota int, opts ...Option) env {
	t.Helper()
	db, err := database.Open(":memory:", nil)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return newEnvWith(t, durable.New(db, zaptest.NewLogger(t)), quota, opts...)
}

// newEnvWith builds an engine over ds; durable.New(nil, ...) gives a tier
// that never opens.
func newEnvWith(t *testing.T, ds *durable.Store, quota int, opts ...Option) env {
	t.Helper()
	mir, err := mirror.New(quota)
	require.NoError(t, err)
	remote := newFakeRemote()
	base := []Option{
		WithRemote(remote),
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return time.UnixMilli(fixedMs) }),
	}
	return env{
		engine:  New(ds, mir, append(base, opts...)...),
		durable: ds,
		mirror:  mir,
		remote:  remote,
	}
}

func withImages(rec details.Record, homepage, key []string) details.Record {
	rec.Galleries[details.GalleryHomepage] = details.RefsFromPayloads(homepage)
	rec.Galleries[details.GalleryKey] = details.RefsFromPayloads(key)
	return rec
}

func str(s string) *string { return &s }

func TestDefaultSynthesis(t *testing.T) {
	e := newEnv(t, mirror.DefaultQuota)
	ctx := context.Background()

	rec, err := e.engine.ResolveRecord(ctx, 11)
	require.NoError(t, err)

	assert.Equal(t, details.BackgroundPlaceholder, rec.Background)
	assert.Equal(t, details.MainPlaceholder, rec.Main)
	assert.Equal(t, details.ConclusionPlaceholder, rec.Conclusion)
	assert.Equal(t, details.LinkPlaceholder, rec.Link)
	assert.Empty(t, rec.Galleries[details.GalleryHomepage])
	assert.Empty(t, rec.Galleries[details.GalleryKey])
	assert.False(t, rec.HasLocalEdits())

	stored, found, err := e.durable.GetRecord(ctx, 11)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, details.MainPlaceholder, stored.Main)
	assert.True(t, e.mirror.Load(textKey(11), &mirrorText{}))
}

func TestRemoteSnapshotFetchedOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/paperDetails.json" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		_, _ = w.Write([]byte(`{"7": {"mainContent": "Novel findings"}}`))
	}))
	defer srv.Close()

	src, err := snapshot.New(snapshot.Config{BaseURL: srv.URL, Mode: snapshot.ModeSingle}, zaptest.NewLogger(t))
	require.NoError(t, err)
	e := newEnv(t, mirror.DefaultQuota, WithRemote(src))
	ctx := context.Background()

	first, err := e.engine.ResolveRecord(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Novel findings", first.Main)

	stored, found, err := e.durable.GetRecord(ctx, 7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Novel findings", stored.Main)

	second, err := e.engine.ResolveRecord(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(first, second))
	assert.EqualValues(t, 1, hits.Load())
}

func TestLocalEditBeatsRepublishedRemote(t *testing.T) {
	e := newEnv(t, mirror.DefaultQuota)
	ctx := context.Background()

	v1 := details.Default(7)
	v1.Main = "Novel findings"
	e.remote.publish(v1)

	rec, err := e.engine.ResolveRecord(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, "Novel findings", rec.Main)

	edited, err := e.engine.UpdateText(ctx, admin.ForItem(7), 7, TextPatch{MainContent: str("Updated by admin")})
	require.NoError(t, err)
	assert.Equal(t, "Updated by admin", edited.Main)
	assert.EqualValues(t, fixedMs, edited.EditedAt)

	v2 := details.Default(7)
	v2.Main = "Novel findings v2"
	e.remote.publish(v2)

	rec, err = e.engine.ResolveRecord(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "Updated by admin", rec.Main)
}

func TestRemoteAuthoritativeWithoutLocalEdits(t *testing.T) {
	e := newEnv(t, mirror.DefaultQuota)
	ctx := context.Background()

	_, err := e.engine.ResolveRecord(ctx, 4)
	require.NoError(t, err)

	pub := withImages(details.Default(4), []string{"data:image/png;base64,AA=="}, nil)
	pub.Conclusion = "Published later"
	e.remote.publish(pub)

	rec, err := e.engine.ResolveRecord(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "Published later", rec.Conclusion)
	assert.Len(t, rec.Galleries[details.GalleryHomepage], 1)

	stored, _, err := e.durable.GetRecord(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "Published later", stored.Conclusion)
}

func TestIdempotentResolve(t *testing.T) {
	e := newEnv(t, mirror.DefaultQuota)
	ctx := context.Background()
	e.remote.publish(withImages(details.Default(3), []string{"h0", "h1"}, []string{"k0"}))

	for _, id := range []int64{3, 99} {
		a, err := e.engine.ResolveRecord(ctx, id)
		require.NoError(t, err)
		b, err := e.engine.ResolveRecord(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(a, b), "item %d", id)
	}
}

func TestPersistResolveRoundTrip(t *testing.T) {
	e := newEnv(t, mirror.DefaultQuota)
	ctx := context.Background()

	want := withImages(details.Default(5), []string{"h0", "h1"}, []string{"k0"})
	want.Background = "Why we did it"
	want.Link = "https://example.org/paper.pdf"
	want.EditedAt = 42
	require.NoError(t, e.engine.PersistRecord(ctx, want))

	other := details.Default(5)
	other.Background = "remote text"
	e.remote.publish(other)

	got, err := e.engine.ResolveRecord(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(want, got))
}

func TestBackfillOnlyEmptyGalleries(t *testing.T) {
	e := newEnv(t, mirror.DefaultQuota)
	ctx := context.Background()

	local := withImages(details.Default(8), []string{"mine"}, nil)
	local.Main = "seeded from an older snapshot"
	require.NoError(t, e.engine.PersistRecord(ctx, local))
	e.remote.publish(withImages(details.Default(8), []string{"theirs"}, []string{"k0", "k1"}))

	rec, err := e.engine.ResolveRecord(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, "seeded from an older snapshot", rec.Main)
	assert.Equal(t, []string{"mine"}, rec.Payloads(details.GalleryHomepage))
	assert.Equal(t, []string{"k0", "k1"}, rec.Payloads(details.GalleryKey))

	stored, _, err := e.durable.GetRecord(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, []string{"k0", "k1"}, stored.Payloads(details.GalleryKey))
}

func TestNoBackfillAfterLocalMutation(t *testing.T) {
	e := newEnv(t, mirror.DefaultQuota)
	ctx := context.Background()

	local := withImages(details.Default(9), []string{"only"}, nil)
	local.EditedAt = 1
	require.NoError(t, e.engine.PersistRecord(ctx, local))
	e.remote.publish(withImages(details.Default(9), nil, []string{"k0"}))

	rec, err := e.engine.ResolveRecord(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, rec.Galleries[details.GalleryKey])
	assert.Zero(t, e.remote.calls)
}

func TestMirrorNewerThanDurable(t *testing.T) {
	e := newEnv(t, mirror.DefaultQuota)
	ctx := context.Background()

	old := withImages(details.Default(6), []string{"h0"}, nil)
	old.Main = "old"
	old.EditedAt = 100
	require.NoError(t, e.engine.PersistRecord(ctx, old))

	newer := textEntry(old)
	newer.MainContent = "newer"
	newer.EditedAt = 200
	require.NoError(t, e.mirror.Save(textKey(6), newer))

	rec, err := e.engine.ResolveRecord(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, "newer", rec.Main)
	assert.Equal(t, []string{"h0"}, rec.Payloads(details.GalleryHomepage))

	stored, _, err := e.durable.GetRecord(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, "newer", stored.Main)
	assert.EqualValues(t, 200, stored.EditedAt)
}

func TestPartialDurableMergedWithMirror(t *testing.T) {
	e := newEnv(t, mirror.DefaultQuota)
	ctx := context.Background()

	partial := details.Record{ItemID: 12, Main: "durable main"}
	require.NoError(t, e.durable.PutText(ctx, partial))
	require.NoError(t, e.mirror.Save(textKey(12), mirrorText{
		BackgroundContent: "mirror background",
		MainContent:       "mirror main",
	}))

	rec, err := e.engine.ResolveRecord(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, "durable main", rec.Main)
	assert.Equal(t, "mirror background", rec.Background)
	assert.Equal(t, details.ConclusionPlaceholder, rec.Conclusion)
}

func TestLegacyPlaceholdersAreNotEdits(t *testing.T) {
	e := newEnv(t, mirror.DefaultQuota)
	ctx := context.Background()

	require.NoError(t, e.durable.PutText(ctx, details.Record{
		ItemID:     13,
		Background: "暂无研究背景信息",
		Main:       "暂无研究内容信息",
		Conclusion: "暂无研究结论信息",
		Link:       "请添加全文链接",
	}))
	pub := details.Default(13)
	pub.Main = "from remote"
	e.remote.publish(pub)

	rec, err := e.engine.ResolveRecord(ctx, 13)
	require.NoError(t, err)
	assert.Equal(t, "from remote", rec.Main)
	assert.Equal(t, details.BackgroundPlaceholder, rec.Background)
}

func TestMutationsRequireAdmin(t *testing.T) {
	e := newEnv(t, mirror.DefaultQuota)
	ctx := context.Background()
	visitor := session.New(false)

	_, err := e.engine.UpdateText(ctx, visitor, 1, TextPatch{MainContent: str("x")})
	assert.ErrorIs(t, err, details.ErrForbidden)
	_, err = e.engine.DeleteImage(ctx, visitor, 1, details.GalleryKey, 0)
	assert.ErrorIs(t, err, details.ErrForbidden)
	_, err = e.engine.UploadImages(ctx, visitor, 1, details.GalleryKey, [][]byte{{1}})
	assert.ErrorIs(t, err, details.ErrForbidden)
}

func TestUpdateTextResetsToPlaceholder(t *testing.T) {
	e := newEnv(t, mirror.DefaultQuota)
	ctx := context.Background()

	_, err := e.engine.UpdateText(ctx, admin, 2, TextPatch{MainContent: str("draft"), LinkContent: str("www.example.org")})
	require.NoError(t, err)
	rec, err := e.engine.UpdateText(ctx, admin, 2, TextPatch{MainContent: str("  ")})
	require.NoError(t, err)

	assert.Equal(t, details.MainPlaceholder, rec.Main)
	assert.Equal(t, "www.example.org", rec.Link)
	assert.True(t, rec.HasLocalEdits())
}

func TestQuotaEvictionThenFailure(t *testing.T) {
	e := newEnv(t, 400)
	ctx := context.Background()

	require.NoError(t, e.mirror.Save("cache:thumbnail", strings.Repeat("x", 300)))

	_, err := e.engine.ResolveRecord(ctx, 1)
	require.NoError(t, err)
	assert.False(t, e.mirror.Load("cache:thumbnail", new(string)))
	assert.True(t, e.mirror.Load(textKey(1), &mirrorText{}))

	_, err = e.engine.UpdateText(ctx, admin, 1, TextPatch{MainContent: str(strings.Repeat("long ", 200))})
	assert.ErrorIs(t, err, details.ErrQuotaExceeded)
}

func TestQuotaNeverEvictsImageBackups(t *testing.T) {
	e := newEnvWith(t, durable.New(nil, zaptest.NewLogger(t)), 2000, WithCodec(passCodec{}))
	ctx := context.Background()

	blob := []byte(strings.Repeat("p", 600))
	_, err := e.engine.UploadImages(ctx, admin, 1, details.GalleryHomepage, [][]byte{blob})
	require.NoError(t, err)

	_, err = e.engine.UpdateText(ctx, admin, 2, TextPatch{MainContent: str(strings.Repeat("x", 1500))})
	assert.ErrorIs(t, err, details.ErrQuotaExceeded)

	var backup mirrorImages
	require.True(t, e.mirror.Load(imageKey(1), &backup))
	assert.Equal(t, []string{"enc:" + string(blob)}, backup.HomepageImages)

	rec, err := e.engine.ResolveRecord(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, rec.Galleries[details.GalleryHomepage], 1)
}

func TestEssentialKeys(t *testing.T) {
	assert.True(t, Essential(textKey(3)))
	assert.True(t, Essential(imageKey(3)))
	assert.False(t, Essential("cache:thumbnail"))
}

func TestDurableUnavailableFallsBackToMirror(t *testing.T) {
	e := newEnvWith(t, durable.New(nil, zaptest.NewLogger(t)), mirror.DefaultQuota, WithCodec(passCodec{}))
	ctx := context.Background()

	rec, err := e.engine.UpdateText(ctx, admin, 3, TextPatch{MainContent: str("kept in mirror")})
	require.NoError(t, err)
	assert.Equal(t, "kept in mirror", rec.Main)

	_, err = e.engine.UploadImages(ctx, admin, 3, details.GalleryHomepage, [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	rec, err = e.engine.DeleteImage(ctx, admin, 3, details.GalleryHomepage, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"enc:a", "enc:c"}, rec.Payloads(details.GalleryHomepage))

	var backup mirrorImages
	require.True(t, e.mirror.Load(imageKey(3), &backup))
	assert.Equal(t, []string{"enc:a", "enc:c"}, backup.HomepageImages)

	got, err := e.engine.ResolveRecord(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(rec, got))

	_, err = e.engine.DeleteImage(ctx, admin, 3, details.GalleryHomepage, 5)
	assert.ErrorIs(t, err, details.ErrInvalidIndex)
}

func TestBackupClearedWhenDurableRecovers(t *testing.T) {
	e := newEnv(t, mirror.DefaultQuota)
	ctx := context.Background()

	require.NoError(t, e.mirror.Save(textKey(4), mirrorText{MainContent: "offline edit", EditedAt: 5}))
	require.NoError(t, e.mirror.Save(imageKey(4), mirrorImages{KeyImages: []string{"k0"}}))

	rec, err := e.engine.ResolveRecord(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "offline edit", rec.Main)
	assert.Equal(t, []string{"k0"}, rec.Payloads(details.GalleryKey))

	assert.False(t, e.mirror.Load(imageKey(4), &mirrorImages{}))
	stored, _, err := e.durable.GetRecord(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"k0"}, stored.Payloads(details.GalleryKey))
}
