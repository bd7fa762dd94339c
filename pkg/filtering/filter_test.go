package filtering

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"forumfilter/internal/testutil"
	"forumfilter/pkg/blocklist"
	"forumfilter/pkg/dom"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(EngineOptions{Log: testutil.DiscardLogger()})
}

func parsePage(t *testing.T, page *testutil.Page) *html.Node {
	t.Helper()
	doc, err := dom.Parse(page.Reader())
	require.NoError(t, err)
	return doc
}

func hiddenFlags(nodes []*html.Node) []bool {
	flags := make([]bool, len(nodes))
	for i, n := range nodes {
		flags[i] = dom.Hidden(n)
	}
	return flags
}

func assertFlags(t *testing.T, what string, got []bool, want ...bool) {
	t.Helper()
	assert.Equal(t, want, got, what)
}

func (e *Engine) testPosts(doc *html.Node) []bool   { return hiddenFlags(e.post.QueryAll(doc)) }
func (e *Engine) testReplies(doc *html.Node) []bool { return hiddenFlags(e.reply.QueryAll(doc)) }

func TestScanHidesOnlyMatchingPost(t *testing.T) {
	engine := newTestEngine(t)
	doc := parsePage(t, testutil.NewPage().Post("alice").Post("X").Post("bob"))

	counts, ok := engine.Scan(doc, []blocklist.BlockedAuthor{{Name: "x", Mode: blocklist.Both}})
	require.True(t, ok)
	assertFlags(t, "posts", engine.testPosts(doc), false, true, false)
	assert.Equal(t, map[string]int{"x": 1}, counts.Questions, "one key per blocked author")
	assert.Equal(t, map[string]int{"x": 0}, counts.Answers)
}

func TestScanCaseInsensitive(t *testing.T) {
	engine := newTestEngine(t)
	doc := parsePage(t, testutil.NewPage().
		Post("AHMET").
		Post("ahmet").
		Reply("AHMET (21.04.25 17:07:41)").
		Reply("Ahmet"))

	counts, _ := engine.Scan(doc, []blocklist.BlockedAuthor{{Name: "Ahmet", Mode: blocklist.Both}})

	assertFlags(t, "posts", engine.testPosts(doc), true, true)
	assertFlags(t, "replies", engine.testReplies(doc), true, true)
	q, a := counts.For("Ahmet")
	assert.Equal(t, [2]int{2, 2}, [2]int{q, a})
}

func TestScanExactMatchOnly(t *testing.T) {
	engine := newTestEngine(t)
	doc := parsePage(t, testutil.NewPage().
		Post("alibaba").
		Post("ali").
		Reply("alibaba (12:00)").
		Reply("kali (12:00)"))

	counts, _ := engine.Scan(doc, []blocklist.BlockedAuthor{{Name: "ali", Mode: blocklist.Both}})

	assertFlags(t, "posts", engine.testPosts(doc), false, true)
	assertFlags(t, "replies", engine.testReplies(doc), false, false)
	q, a := counts.For("ali")
	assert.Equal(t, [2]int{1, 0}, [2]int{q, a})
}

func TestScanModes(t *testing.T) {
	page := testutil.NewPage().Post("asker").Post("answerer").Reply("asker (1)").Reply("answerer (2)")
	engine := newTestEngine(t)
	doc := parsePage(t, page)

	counts, _ := engine.Scan(doc, []blocklist.BlockedAuthor{
		{Name: "asker", Mode: blocklist.QuestionsOnly},
		{Name: "answerer", Mode: blocklist.RepliesOnly},
	})

	assertFlags(t, "posts", engine.testPosts(doc), true, false)
	assertFlags(t, "replies", engine.testReplies(doc), false, true)
	q, a := counts.For("asker")
	assert.Equal(t, [2]int{1, 0}, [2]int{q, a}, "asker")
	q, a = counts.For("answerer")
	assert.Equal(t, [2]int{0, 1}, [2]int{q, a}, "answerer")
}

func TestScanIsIdempotent(t *testing.T) {
	engine := newTestEngine(t)
	doc := parsePage(t, testutil.NewPage().Post("x").Post("y").Reply("x (1)").Reply("z (2)"))
	authors := []blocklist.BlockedAuthor{{Name: "x", Mode: blocklist.Both}}

	first, _ := engine.Scan(doc, authors)
	var firstHTML bytes.Buffer
	require.NoError(t, dom.Render(&firstHTML, doc))

	second, _ := engine.Scan(doc, authors)
	var secondHTML bytes.Buffer
	require.NoError(t, dom.Render(&secondHTML, doc))

	assert.Equal(t, firstHTML.String(), secondHTML.String(), "second scan changed the page")
	assert.Equal(t, first, second)
}

func TestScanEmptyListLeavesPageUntouched(t *testing.T) {
	engine := newTestEngine(t)
	doc := parsePage(t, testutil.NewPage().Post("x").Reply("x (1)"))

	engine.Scan(doc, []blocklist.BlockedAuthor{{Name: "x", Mode: blocklist.Both}})
	_, ok := engine.Scan(doc, nil)
	assert.False(t, ok, "empty block-list skips the scan")
	assertFlags(t, "posts", engine.testPosts(doc), true)
	assertFlags(t, "replies", engine.testReplies(doc), true)
}

func TestScanRevealsUnblockedAuthors(t *testing.T) {
	engine := newTestEngine(t)
	doc := parsePage(t, testutil.NewPage().Post("x").Reply("x (1)"))

	engine.Scan(doc, []blocklist.BlockedAuthor{{Name: "x", Mode: blocklist.Both}})
	counts, _ := engine.Scan(doc, []blocklist.BlockedAuthor{{Name: "y", Mode: blocklist.Both}})

	assertFlags(t, "posts", engine.testPosts(doc), false)
	assertFlags(t, "replies", engine.testReplies(doc), false)
	assert.NotContains(t, counts.Questions, "x", "counts of removed authors are pruned")
}

func TestScanSkipsUnreadableEntries(t *testing.T) {
	engine := newTestEngine(t)
	doc := parsePage(t, testutil.NewPage().
		PostWithoutAuthor().
		PostWithFlatAuthor("x").
		Post("x").
		ReplyWithoutPoster().
		Reply("   ").
		Reply("x (1)"))

	counts, _ := engine.Scan(doc, []blocklist.BlockedAuthor{{Name: "x", Mode: blocklist.Both}})

	assertFlags(t, "posts", engine.testPosts(doc), false, false, true)
	assertFlags(t, "replies", engine.testReplies(doc), false, false, true)
	q, a := counts.For("x")
	assert.Equal(t, [2]int{1, 1}, [2]int{q, a})
}

func TestReplyAuthorToken(t *testing.T) {
	engine := newTestEngine(t)
	tests := []struct {
		poster string
		want   string
		ok     bool
	}{
		{"exlibris (21.04.25 17:07:41 ~ 17:08:49)", "exlibris", true},
		{"  MixedCase\t(12:00)", "mixedcase", true},
		{"spammer(12:00)", "spammer(12:00)", true},
		{"", "", false},
	}
	for _, tt := range tests {
		doc := parsePage(t, testutil.NewPage().Reply(tt.poster))
		reply := engine.reply.Query(doc)
		got, ok := engine.ReplyAuthor(reply)
		assert.Equal(t, tt.want, got, tt.poster)
		assert.Equal(t, tt.ok, ok, tt.poster)
	}
}

func TestHideListUsesSubstringOnReplies(t *testing.T) {
	engine := newTestEngine(t)
	doc := parsePage(t, testutil.NewPage().Reply("spammer(12:00)"))

	// The block-list path requires the exact token.
	engine.Scan(doc, []blocklist.BlockedAuthor{{Name: "spam", Mode: blocklist.Both}})
	assertFlags(t, "replies after block-list", engine.testReplies(doc), false)

	assert.Equal(t, 1, engine.HideReplies(doc, []string{"spam"}))
	assertFlags(t, "replies after hide-list", engine.testReplies(doc), true)
}

func TestHideListHidesFirstReplyPerName(t *testing.T) {
	engine := newTestEngine(t)
	doc := parsePage(t, testutil.NewPage().
		Reply("someone (1)").
		Reply("Troll (2)").
		Reply("troll (3)").
		Reply("nobody (4)"))

	engine.HideReplies(doc, []string{"TROLL", ""})
	assertFlags(t, "replies", engine.testReplies(doc), false, true, false, false)

	engine.HideReplies(doc, nil)
	assertFlags(t, "replies after clearing", engine.testReplies(doc), false, false, false, false)
}

func TestHideListPostsExactMatch(t *testing.T) {
	engine := newTestEngine(t)
	doc := parsePage(t, testutil.NewPage().Post("Spam").Post("spammer").PostWithoutAuthor())

	assert.Equal(t, 1, engine.HidePosts(doc, []string{"spam"}))
	assertFlags(t, "posts", engine.testPosts(doc), true, false, false)
}

func TestLayersAreIndependent(t *testing.T) {
	engine := newTestEngine(t)
	doc := parsePage(t, testutil.NewPage().Post("x"))
	post := engine.post.Query(doc)

	engine.HidePosts(doc, []string{"x"})
	engine.Scan(doc, []blocklist.BlockedAuthor{{Name: "y", Mode: blocklist.Both}})
	assert.True(t, dom.Hidden(post), "block-list scan must not reveal posts hidden by the hide-list")

	engine.Scan(doc, []blocklist.BlockedAuthor{{Name: "x", Mode: blocklist.Both}})
	engine.HidePosts(doc, nil)
	assert.True(t, dom.Hidden(post), "clearing the hide-list must not reveal posts hidden by the block-list")
}

func TestCustomSelectors(t *testing.T) {
	engine := NewEngine(EngineOptions{
		Selectors: Selectors{Post: "article.post", PostAuthor: "footer"},
		Log:       testutil.DiscardLogger(),
	})
	doc, err := dom.Parse(strings.NewReader(`<article class="post"><footer><b><i>Ann</i></b></footer></article>`))
	require.NoError(t, err)
	counts, _ := engine.Scan(doc, []blocklist.BlockedAuthor{{Name: "ann", Mode: blocklist.Both}})
	assert.Equal(t, 1, counts.Questions["ann"])
}

func TestHiddenLogWrites(t *testing.T) {
	tmpDir := t.TempDir()
	hiddenLog := filepath.Join(tmpDir, "hidden.log")

	engine := NewEngine(EngineOptions{HiddenLogPath: hiddenLog, Log: testutil.DiscardLogger()})
	doc := parsePage(t, testutil.NewPage().Post("x").Reply("spammer (1)"))
	engine.Scan(doc, []blocklist.BlockedAuthor{{Name: "x", Mode: blocklist.Both}})
	engine.HideReplies(doc, []string{"spam"})
	require.NoError(t, engine.Close())

	data, err := os.ReadFile(hiddenLog) // #nosec G304 -- test temp file path.
	require.NoError(t, err)
	logText := string(data)
	assert.Contains(t, logText, "layer=authors kind=post author=x")
	assert.Contains(t, logText, "layer=users kind=reply author=spam")
}
