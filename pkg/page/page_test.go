package page_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forumfilter/internal/testutil"
	"forumfilter/pkg/blocklist"
	"forumfilter/pkg/dom"
	"forumfilter/pkg/filtering"
	"forumfilter/pkg/page"
	"forumfilter/pkg/store"
)

type fixture struct {
	store   *store.Store
	authors *blocklist.Authors
	users   *blocklist.Users
	deps    page.Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := testutil.OpenStore(t)
	log := testutil.DiscardLogger()
	return &fixture{
		store:   s,
		authors: blocklist.NewAuthors(s.Sync, log),
		users:   blocklist.NewUsers(s.Sync, log),
		deps: page.Deps{
			Store:  s,
			Engine: filtering.NewEngine(filtering.EngineOptions{Log: log}),
			Log:    log,
		},
	}
}

func publishedCounts(t *testing.T, s *store.Store) (filtering.Counts, bool) {
	t.Helper()
	var counts filtering.Counts
	found, err := s.Local.Get(context.Background(), store.KeyFilterCounts, &counts)
	require.NoError(t, err)
	return counts, found
}

func hiddenPosts(t *testing.T, p *page.Page) []bool {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, p.Render(&buf))
	doc, err := dom.Parse(&buf)
	require.NoError(t, err)
	var flags []bool
	for _, n := range dom.Compile("div.entry0").QueryAll(doc) {
		flags = append(flags, dom.Hidden(n))
	}
	for _, n := range dom.Compile("div.answer").QueryAll(doc) {
		flags = append(flags, dom.Hidden(n))
	}
	return flags
}

func TestStartFiltersAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.authors.Add(ctx, "x")
	require.NoError(t, err)

	p, err := page.Load(testutil.NewPage().Post("a").Post("X").Post("b").Reader(), f.deps)
	require.NoError(t, err)
	p.Start(ctx)
	defer p.Close()

	assert.Equal(t, []bool{false, true, false}, hiddenPosts(t, p))
	counts, found := publishedCounts(t, f.store)
	require.True(t, found)
	assert.Equal(t, 1, counts.Questions["x"])
	assert.Equal(t, 0, counts.Answers["x"])
}

func TestBlockListChangeTriggersRescan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := page.Load(testutil.NewPage().Post("troll").Reply("troll (1)").Reader(), f.deps)
	require.NoError(t, err)
	p.Start(ctx)
	defer p.Close()

	assert.Equal(t, []bool{false, false}, hiddenPosts(t, p))
	_, found := publishedCounts(t, f.store)
	assert.False(t, found, "empty block-list publishes nothing")
	assert.Equal(t, filtering.Counts{Questions: map[string]int{}, Answers: map[string]int{}}, p.Counts())

	_, err = f.authors.Add(ctx, "Troll")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, hiddenPosts(t, p))

	_, _, err = f.authors.Toggle(ctx, "troll")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, hiddenPosts(t, p))

	counts, found := publishedCounts(t, f.store)
	require.True(t, found)
	assert.Equal(t, 1, counts.Questions["Troll"])
	assert.Equal(t, 0, counts.Answers["Troll"])
}

func TestHideListChangeTriggersRescan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := page.Load(testutil.NewPage().Post("spam").Reply("spammer(12:00)").Reader(), f.deps)
	require.NoError(t, err)
	p.Start(ctx)
	defer p.Close()

	_, err = f.users.Add(ctx, "spam")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, hiddenPosts(t, p))

	require.NoError(t, f.users.Remove(ctx, "SPAM"))
	assert.Equal(t, []bool{false, false}, hiddenPosts(t, p))
}

func TestRefreshSignalTriggersRescan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var refreshes int
	f.deps.OnRefresh = func(*page.Page) { refreshes++ }
	p, err := page.Load(testutil.NewPage().Post("a").Reader(), f.deps)
	require.NoError(t, err)
	p.Start(ctx)
	assert.Equal(t, 1, refreshes)

	require.NoError(t, f.store.Local.Set(ctx, map[string]any{store.KeyRefreshStamp: 1}))
	assert.Equal(t, 2, refreshes)

	// Counts written by the page itself do not loop back.
	require.NoError(t, f.store.Local.Set(ctx, map[string]any{store.KeyFilterCounts: filtering.Counts{}}))
	assert.Equal(t, 2, refreshes)

	p.Close()
	require.NoError(t, f.store.Local.Set(ctx, map[string]any{store.KeyRefreshStamp: 2}))
	assert.Equal(t, 2, refreshes)
}

func TestReplaceFiltersNewDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.authors.Add(ctx, "x")
	require.NoError(t, err)

	p, err := page.Load(testutil.NewPage().Post("a").Reader(), f.deps)
	require.NoError(t, err)
	p.Start(ctx)
	defer p.Close()

	doc, err := dom.Parse(testutil.NewPage().Post("a").Post("x").Post("x").Reader())
	require.NoError(t, err)
	p.Replace(ctx, doc)

	assert.Equal(t, []bool{false, true, true}, hiddenPosts(t, p))
	assert.Equal(t, 2, p.Counts().Questions["x"])
}

func TestMigrationOnFirstScan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Sync.Set(ctx, map[string]any{store.KeyBlockedAuthors: []string{"foo", "bar"}}))

	p, err := page.Load(testutil.NewPage().Post("foo").Post("baz").Reader(), f.deps)
	require.NoError(t, err)
	p.Start(ctx)
	defer p.Close()

	assert.Equal(t, []bool{true, false}, hiddenPosts(t, p))
	entries, err := f.authors.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []blocklist.BlockedAuthor{
		{Name: "foo", Mode: blocklist.Both},
		{Name: "bar", Mode: blocklist.Both},
	}, entries)
}

func TestTwoPagesShareTheLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := page.Load(testutil.NewPage().Post("x").Reader(), f.deps)
	require.NoError(t, err)
	second, err := page.Load(testutil.NewPage().Post("x").Post("y").Reader(), f.deps)
	require.NoError(t, err)
	first.Start(ctx)
	second.Start(ctx)
	defer first.Close()
	defer second.Close()

	_, err = f.authors.Add(ctx, "x")
	require.NoError(t, err)

	assert.Equal(t, []bool{true}, hiddenPosts(t, first))
	assert.Equal(t, []bool{true, false}, hiddenPosts(t, second))
}
