// Package dataset holds the record model for labeled conversation datasets:
// Blocks of Turns sharing one annotation snapshot, the two stored record
// shapes, and the coalescing rule that decides when a new Turn extends the
// last Block.
package dataset

import (
	"encoding/json"
	"time"
)

// Speakers.
const (
	SpeakerUser = "user"
	SpeakerAI   = "ai"
)

// Annotation defaults applied when a caller leaves a label empty.
const (
	DefaultMood    = "neutral"
	DefaultEmotion = "none"
)

// TraitKeys is the canonical trait order. Equality and encoding follow it.
var TraitKeys = [...]string{"trust", "happiness", "romantic", "sad", "angry", "lust"}

// Turn is one speaker's utterance. Text may be literal or a codec token.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Traits holds the six personality-trait scores. Absent keys are 0.
// Other keys in a stored traits object are ignored on read; an untouched
// record keeps them in its original bytes, but the first mutation of that
// record writes only the six canonical keys.
type Traits struct {
	Trust     Score `json:"trust"`
	Happiness Score `json:"happiness"`
	Romantic  Score `json:"romantic"`
	Sad       Score `json:"sad"`
	Angry     Score `json:"angry"`
	Lust      Score `json:"lust"`
}

// Get returns the score for a canonical key and whether the key is known.
func (t Traits) Get(key string) (float64, bool) {
	switch key {
	case "trust":
		return float64(t.Trust), true
	case "happiness":
		return float64(t.Happiness), true
	case "romantic":
		return float64(t.Romantic), true
	case "sad":
		return float64(t.Sad), true
	case "angry":
		return float64(t.Angry), true
	case "lust":
		return float64(t.Lust), true
	}
	return 0, false
}

// Set assigns the score for a canonical key. Unknown keys report false.
func (t *Traits) Set(key string, v float64) bool {
	switch key {
	case "trust":
		t.Trust = Score(v)
	case "happiness":
		t.Happiness = Score(v)
	case "romantic":
		t.Romantic = Score(v)
	case "sad":
		t.Sad = Score(v)
	case "angry":
		t.Angry = Score(v)
	case "lust":
		t.Lust = Score(v)
	default:
		return false
	}
	return true
}

// Annotation is the metadata snapshot shared by every Turn in a Block.
type Annotation struct {
	Traits  Traits
	Mood    string
	Emotion string
	NSFW    int
}

// WithDefaults fills empty mood and emotion labels.
func (a Annotation) WithDefaults() Annotation {
	if a.Mood == "" {
		a.Mood = DefaultMood
	}
	if a.Emotion == "" {
		a.Emotion = DefaultEmotion
	}
	return a
}

// Equal reports whether two annotations match: traits per canonical key,
// then mood, emotion and nsfw.
func (a Annotation) Equal(b Annotation) bool {
	return a == b
}

// Shape records which stored form a Block was decoded from.
type Shape int

const (
	ShapeBlock  Shape = iota // {traits, mood, emotion, nsfw, conversation, createdAt}
	ShapeLegacy              // {prompt, response, ...metadata}
)

func (s Shape) String() string {
	if s == ShapeLegacy {
		return "legacy"
	}
	return "block"
}

// Block is a run of consecutive Turns sharing one Annotation.
// CreatedAt is fixed when the Block is created.
type Block struct {
	Annotation
	Conversation []Turn
	CreatedAt    time.Time

	shape Shape
	// raw holds the bytes the Block was decoded from until it is mutated,
	// so untouched records re-encode unchanged.
	raw json.RawMessage
	// extra holds fields this model does not know (e.g. "raw" on legacy records).
	extra map[string]json.RawMessage
}

// NewBlock starts a Block with a single Turn.
func NewBlock(ann Annotation, turn Turn, now time.Time) Block {
	return Block{
		Annotation:   ann,
		Conversation: []Turn{turn},
		CreatedAt:    now.UTC().Truncate(time.Millisecond),
	}
}

// Shape returns the stored form of the Block.
func (b Block) Shape() Shape {
	return b.shape
}

// Prompt returns the text of the first user Turn.
func (b Block) Prompt() string {
	if i := b.firstTurn(SpeakerUser); i >= 0 {
		return b.Conversation[i].Text
	}
	return ""
}

// Response returns the text of the first ai Turn.
func (b Block) Response() string {
	if i := b.firstTurn(SpeakerAI); i >= 0 {
		return b.Conversation[i].Text
	}
	return ""
}

// SetPrompt replaces the first user Turn's text, inserting a user Turn at the
// front when the Block has none.
func (b *Block) SetPrompt(text string) {
	b.touch()
	if i := b.firstTurn(SpeakerUser); i >= 0 {
		b.Conversation[i].Text = text
		return
	}
	b.Conversation = append([]Turn{{Speaker: SpeakerUser, Text: text}}, b.Conversation...)
}

// SetResponse replaces the first ai Turn's text, appending an ai Turn when the
// Block has none.
func (b *Block) SetResponse(text string) {
	b.touch()
	if i := b.firstTurn(SpeakerAI); i >= 0 {
		b.Conversation[i].Text = text
		return
	}
	b.Conversation = append(b.Conversation, Turn{Speaker: SpeakerAI, Text: text})
}

// MapText rewrites every Turn's text. The first error aborts and leaves the
// Block unchanged.
func (b *Block) MapText(fn func(string) (string, error)) error {
	conv := make([]Turn, len(b.Conversation))
	for i, t := range b.Conversation {
		text, err := fn(t.Text)
		if err != nil {
			return err
		}
		conv[i] = Turn{Speaker: t.Speaker, Text: text}
	}
	b.touch()
	b.Conversation = conv
	return nil
}

// appendTurn extends the conversation. A legacy record can only hold one
// prompt/response pair, so it is promoted to the Block shape.
func (b *Block) appendTurn(t Turn) {
	b.touch()
	b.shape = ShapeBlock
	b.Conversation = append(b.Conversation, t)
}

func (b *Block) touch() {
	b.raw = nil
	b.Conversation = append([]Turn(nil), b.Conversation...)
}

func (b Block) firstTurn(speaker string) int {
	for i, t := range b.Conversation {
		if t.Speaker == speaker {
			return i
		}
	}
	return -1
}
