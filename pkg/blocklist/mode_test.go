package blocklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModeNext(t *testing.T) {
	tests := []struct {
		mode Mode
		want Mode
	}{
		{Both, QuestionsOnly},
		{QuestionsOnly, RepliesOnly},
		{RepliesOnly, Both},
		{Mode("?"), Both},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.mode.Next(), "next of %q", tt.mode)
	}

	for _, start := range modeCycle {
		assert.Equal(t, start, start.Next().Next().Next())
	}
}

func TestModeLabel(t *testing.T) {
	tests := []struct {
		mode      Mode
		questions int
		answers   int
		want      string
	}{
		{Both, 0, 0, "T"},
		{Both, 2, 0, "T (2,0)"},
		{Both, 0, 3, "T (0,3)"},
		{Both, 1, 4, "T (1,4)"},
		{QuestionsOnly, 0, 5, "S"},
		{QuestionsOnly, 3, 5, "S (3)"},
		{RepliesOnly, 5, 0, "C"},
		{RepliesOnly, 5, 2, "C (2)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.mode.Label(tt.questions, tt.answers))
	}
}

func TestModeScope(t *testing.T) {
	assert.True(t, Both.HidesQuestions())
	assert.True(t, Both.HidesReplies())
	assert.True(t, QuestionsOnly.HidesQuestions())
	assert.False(t, QuestionsOnly.HidesReplies())
	assert.False(t, RepliesOnly.HidesQuestions())
	assert.True(t, RepliesOnly.HidesReplies())
}

func TestParseMode(t *testing.T) {
	for raw, want := range map[string]Mode{"T": Both, "s": QuestionsOnly, "replies": RepliesOnly, " both ": Both} {
		got, err := ParseMode(raw)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("x")
	assert.Error(t, err)
}

func TestAuthorSetExactMatch(t *testing.T) {
	set := NewAuthorSet([]BlockedAuthor{
		{Name: "ali", Mode: Both},
		{Name: "Ahmet", Mode: RepliesOnly},
		{Name: "ALI", Mode: QuestionsOnly},
	})
	assert.Equal(t, 2, set.Len())

	got, ok := set.Match("AHMET")
	assert.True(t, ok)
	assert.Equal(t, "Ahmet", got.Name)

	got, ok = set.Match("Ali")
	assert.True(t, ok)
	assert.Equal(t, Both, got.Mode)

	_, ok = set.Match("alibaba")
	assert.False(t, ok)
	_, ok = set.Match("al")
	assert.False(t, ok)
	_, ok = set.Match("")
	assert.False(t, ok)
}
