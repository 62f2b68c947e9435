package dataset

import (
	"time"

	"github.com/hpungsan/convoset/internal/errors"
)

// Entry is an incoming Turn together with the annotation it was entered under.
type Entry struct {
	Role       string
	Text       string
	Annotation Annotation
}

// Validate checks the Entry before any mutation.
func (e Entry) Validate() error {
	if e.Role == "" || e.Text == "" {
		return errors.NewValidation("Both role and message are required")
	}
	if e.Role != SpeakerUser && e.Role != SpeakerAI {
		return errors.NewValidation(`role must be "user" or "ai"`)
	}
	if e.Annotation.NSFW < 0 {
		return errors.NewValidation("nsfw must be 0 or greater")
	}
	return nil
}

// Coalesce applies an Entry to a Block sequence. When the last Block carries
// the same annotation the Turn is appended to it (merged=true) and its
// createdAt is kept; otherwise a new single-Turn Block stamped with now is
// added. Turn text never takes part in the comparison.
//
// The input slice is not modified.
func Coalesce(blocks []Block, e Entry, now time.Time) (out []Block, merged bool, err error) {
	if err := e.Validate(); err != nil {
		return nil, false, err
	}
	ann := e.Annotation.WithDefaults()
	turn := Turn{Speaker: e.Role, Text: e.Text}

	out = make([]Block, len(blocks), len(blocks)+1)
	copy(out, blocks)

	if n := len(out); n > 0 && out[n-1].Annotation.Equal(ann) {
		out[n-1].appendTurn(turn)
		return out, true, nil
	}
	return append(out, NewBlock(ann, turn, now)), false, nil
}
