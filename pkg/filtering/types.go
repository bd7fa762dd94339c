// Package filtering hides forum posts and replies written by blocked authors.
package filtering

import "forumfilter/pkg/blocklist"

// Visibility layers. Each filter owns one and only ever clears its own.
const (
	LayerAuthors = "authors"
	LayerUsers   = "users"
)

// Selectors locate the parts of a forum page the filter reads.
type Selectors struct {
	Post        string `mapstructure:"post"`
	PostAuthor  string `mapstructure:"post_author"`
	Reply       string `mapstructure:"reply"`
	ReplyPoster string `mapstructure:"reply_poster"`
	ReplyAuthor string `mapstructure:"reply_author"`
}

// DefaultSelectors matches the forum markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Post:        "div.entry0",
		PostAuthor:  "div.bottomright.duclsact",
		Reply:       "div.answer",
		ReplyPoster: "ul.duans.poster",
		ReplyAuthor: "li",
	}
}

// Counts holds how many posts (questions) and replies (answers) were hidden
// per blocked author during one scan. Keys are the stored author names.
type Counts struct {
	Questions map[string]int `json:"questions"`
	Answers   map[string]int `json:"answers"`
}

// NewCounts returns zero counts for every given author.
func NewCounts(authors []blocklist.BlockedAuthor) Counts {
	c := Counts{
		Questions: make(map[string]int, len(authors)),
		Answers:   make(map[string]int, len(authors)),
	}
	for _, author := range authors {
		c.Questions[author.Name] = 0
		c.Answers[author.Name] = 0
	}
	return c
}

// For returns the counts recorded for name.
func (c Counts) For(name string) (questions, answers int) {
	return c.Questions[name], c.Answers[name]
}

// Total sums both maps.
func (c Counts) Total() (questions, answers int) {
	for _, n := range c.Questions {
		questions += n
	}
	for _, n := range c.Answers {
		answers += n
	}
	return questions, answers
}
