// Package blocklist persists the blocked-author list and the hide-list.
package blocklist

import (
	"fmt"
	"strings"
)

// Mode selects which kind of content is hidden for a blocked author.
type Mode string

// Modes are persisted as single-letter codes.
const (
	Both          Mode = "T"
	QuestionsOnly Mode = "S"
	RepliesOnly   Mode = "C"
)

// modeCycle is the toggle order.
var modeCycle = []Mode{Both, QuestionsOnly, RepliesOnly}

// ParseMode accepts a mode code or its name.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "t", "both":
		return Both, nil
	case "s", "questions", "questionsonly":
		return QuestionsOnly, nil
	case "c", "replies", "repliesonly":
		return RepliesOnly, nil
	}
	return "", fmt.Errorf("invalid mode: %q (must be one of: T, S, C)", raw)
}

// Valid reports whether m is one of the known codes.
func (m Mode) Valid() bool {
	return m == Both || m == QuestionsOnly || m == RepliesOnly
}

// Next returns the following mode in the cycle Both -> QuestionsOnly -> RepliesOnly -> Both.
// Unknown modes restart the cycle at Both.
func (m Mode) Next() Mode {
	for i, mode := range modeCycle {
		if mode == m {
			return modeCycle[(i+1)%len(modeCycle)]
		}
	}
	return Both
}

// HidesQuestions reports whether posts of the author are hidden.
func (m Mode) HidesQuestions() bool {
	return m == Both || m == QuestionsOnly
}

// HidesReplies reports whether replies of the author are hidden.
func (m Mode) HidesReplies() bool {
	return m != QuestionsOnly
}

// Label renders the popup indicator for the mode with the last published counts.
func (m Mode) Label(questions, answers int) string {
	switch m {
	case QuestionsOnly:
		if questions > 0 {
			return fmt.Sprintf("S (%d)", questions)
		}
	case RepliesOnly:
		if answers > 0 {
			return fmt.Sprintf("C (%d)", answers)
		}
	case Both:
		if questions > 0 || answers > 0 {
			return fmt.Sprintf("T (%d,%d)", questions, answers)
		}
	}
	return string(m)
}

// String returns the readable mode name.
func (m Mode) String() string {
	switch m {
	case Both:
		return "both"
	case QuestionsOnly:
		return "questions"
	case RepliesOnly:
		return "replies"
	}
	return "unknown"
}
