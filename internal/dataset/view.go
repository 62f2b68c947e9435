package dataset

import (
	"regexp"
	"slices"
	"time"

	"github.com/hpungsan/convoset/internal/errors"
)

// MaxNameLength bounds dataset names so they stay valid file names.
const MaxNameLength = 128

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateName checks a dataset name: [A-Za-z0-9_-]+, at most MaxNameLength
// (128) bytes. Surrounding whitespace is not trimmed; it makes the name invalid.
func ValidateName(name string) error {
	if len(name) > MaxNameLength || !namePattern.MatchString(name) {
		return errors.NewInvalidName(name)
	}
	return nil
}

// Pair is one slot of the flattened (legacy) view: every Block contributes
// exactly one prompt/response pair.
type Pair struct {
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
	Traits    Traits `json:"traits"`
	Mood      string `json:"mood"`
	Emotion   string `json:"emotion"`
	NSFW      int    `json:"nsfw"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// Flatten returns the flattened view of a sequence, one Pair per Block.
func Flatten(blocks []Block) []Pair {
	pairs := make([]Pair, len(blocks))
	for i, b := range blocks {
		pairs[i] = Pair{
			Prompt:   b.Prompt(),
			Response: b.Response(),
			Traits:   b.Traits,
			Mood:     b.Mood,
			Emotion:  b.Emotion,
			NSFW:     b.NSFW,
		}
		if !b.CreatedAt.IsZero() {
			pairs[i].CreatedAt = b.CreatedAt.UTC().Format(TimeFormat)
		}
	}
	return pairs
}

// CheckIndex enforces 0 <= index < length for flattened-view addressing.
func CheckIndex(index, length int) error {
	if index < 0 || index >= length {
		return errors.NewIndexOutOfRange(index, length)
	}
	return nil
}

// SortChronological returns a copy ordered by createdAt ascending. Equal
// timestamps keep their stored order.
func SortChronological(blocks []Block) []Block {
	out := slices.Clone(blocks)
	if out == nil {
		out = []Block{}
	}
	slices.SortStableFunc(out, func(a, b Block) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

// TurnCount returns the total number of Turns across Blocks.
func TurnCount(blocks []Block) int {
	n := 0
	for _, b := range blocks {
		n += len(b.Conversation)
	}
	return n
}

// Span returns the earliest and latest createdAt, ignoring zero timestamps.
func Span(blocks []Block) (first, last time.Time) {
	for _, b := range blocks {
		if b.CreatedAt.IsZero() {
			continue
		}
		if first.IsZero() || b.CreatedAt.Before(first) {
			first = b.CreatedAt
		}
		if b.CreatedAt.After(last) {
			last = b.CreatedAt
		}
	}
	return first, last
}
