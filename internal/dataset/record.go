package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// TimeFormat is the createdAt encoding (JavaScript toISOString).
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Score is a trait score. It decodes from a JSON number or a numeric string,
// since older clients wrote scores as fixed-point strings ("0.50").
type Score float64

// UnmarshalJSON implements json.Unmarshaler.
func (s *Score) UnmarshalJSON(data []byte) error {
	v, err := decodeNumber(data)
	if err != nil {
		return fmt.Errorf("trait score: %w", err)
	}
	*s = Score(v)
	return nil
}

// blockFields is the Block shape as persisted, in field order.
type blockFields struct {
	Traits       Traits `json:"traits"`
	Mood         string `json:"mood"`
	Emotion      string `json:"emotion"`
	NSFW         int    `json:"nsfw"`
	Conversation []Turn `json:"conversation"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

// legacyFields is the single-turn-pair record shape.
type legacyFields struct {
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
	Traits    Traits `json:"traits"`
	Mood      string `json:"mood"`
	Emotion   string `json:"emotion"`
	NSFW      int    `json:"nsfw"`
	CreatedAt string `json:"createdAt,omitempty"`
}

var (
	blockKeys  = []string{"traits", "mood", "emotion", "nsfw", "conversation", "createdAt"}
	legacyKeys = []string{"prompt", "response", "traits", "mood", "emotion", "nsfw", "createdAt"}
)

// UnmarshalJSON resolves either record shape into a Block.
func (b *Block) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("record is not an object: %w", err)
	}
	if fields == nil {
		return fmt.Errorf("record is null")
	}

	var out Block
	_, hasConv := fields["conversation"]
	_, hasPrompt := fields["prompt"]
	_, hasResponse := fields["response"]

	switch {
	case hasConv:
		out.shape = ShapeBlock
		if err := decodeField(fields, "conversation", &out.Conversation); err != nil {
			return err
		}
	case hasPrompt || hasResponse:
		out.shape = ShapeLegacy
		var prompt, response string
		if err := decodeField(fields, "prompt", &prompt); err != nil {
			return err
		}
		if err := decodeField(fields, "response", &response); err != nil {
			return err
		}
		out.Conversation = []Turn{
			{Speaker: SpeakerUser, Text: prompt},
			{Speaker: SpeakerAI, Text: response},
		}
	default:
		return fmt.Errorf("record has neither conversation nor prompt/response")
	}

	if err := decodeField(fields, "traits", &out.Traits); err != nil {
		return err
	}
	out.Mood = DefaultMood
	if err := decodeField(fields, "mood", &out.Mood); err != nil {
		return err
	}
	out.Emotion = DefaultEmotion
	if err := decodeField(fields, "emotion", &out.Emotion); err != nil {
		return err
	}
	if raw, ok := fields["nsfw"]; ok {
		v, err := decodeNumber(raw)
		if err != nil {
			return fmt.Errorf("nsfw: %w", err)
		}
		out.NSFW = int(v)
	}
	if raw, ok := fields["createdAt"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			// Unparseable timestamps sort first, like an invalid Date.
			out.CreatedAt, _ = time.Parse(time.RFC3339Nano, s)
		}
	}

	known := blockKeys
	if out.shape == ShapeLegacy {
		known = legacyKeys
	}
	for k, v := range fields {
		if !slices.Contains(known, k) {
			out.setExtra(k, v)
		}
	}

	out.raw = append(json.RawMessage(nil), data...)
	*b = out
	return nil
}

// MarshalJSON writes the Block in the shape it was read in. Unmodified
// Blocks return their original bytes.
func (b Block) MarshalJSON() ([]byte, error) {
	if b.raw != nil {
		return b.raw, nil
	}

	createdAt := ""
	if !b.CreatedAt.IsZero() {
		createdAt = b.CreatedAt.UTC().Format(TimeFormat)
	}

	var v any
	if b.shape == ShapeLegacy {
		v = legacyFields{
			Prompt:    b.Prompt(),
			Response:  b.Response(),
			Traits:    b.Traits,
			Mood:      b.Mood,
			Emotion:   b.Emotion,
			NSFW:      b.NSFW,
			CreatedAt: createdAt,
		}
	} else {
		conv := b.Conversation
		if conv == nil {
			conv = []Turn{}
		}
		v = blockFields{
			Traits:       b.Traits,
			Mood:         b.Mood,
			Emotion:      b.Emotion,
			NSFW:         b.NSFW,
			Conversation: conv,
			CreatedAt:    createdAt,
		}
	}

	data, err := marshal(v, "")
	if err != nil {
		return nil, err
	}
	if len(b.extra) == 0 {
		return data, nil
	}

	// Splice unknown fields back in before the closing brace, sorted by key.
	keys := make([]string, 0, len(b.extra))
	for k := range b.extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var buf bytes.Buffer
	buf.Write(data[:len(data)-1])
	for _, k := range keys {
		kb, _ := json.Marshal(k)
		buf.WriteByte(',')
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(b.extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (b *Block) setExtra(k string, v json.RawMessage) {
	if b.extra == nil {
		b.extra = make(map[string]json.RawMessage)
	}
	b.extra[k] = v
}

// Decode parses a stored dataset: a JSON array of records in either shape.
// Empty input decodes to an empty sequence.
func Decode(data []byte) ([]Block, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []Block{}, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("dataset is not a JSON array: %w", err)
	}
	blocks := make([]Block, 0, len(raws))
	for i, raw := range raws {
		var b Block
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// Encode writes a dataset as an indented JSON array (two spaces), the layout
// dataset files have always used.
func Encode(blocks []Block) ([]byte, error) {
	if blocks == nil {
		blocks = []Block{}
	}
	return marshal(blocks, "  ")
}

// marshal encodes without HTML escaping so text such as "<3" is stored the
// way the browser client wrote it.
func marshal(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// decodeField decodes fields[key] into dst when present and not null.
func decodeField(fields map[string]json.RawMessage, key string, dst any) error {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// decodeNumber accepts a JSON number, a numeric string, a boolean or null.
func decodeNumber(data []byte) (float64, error) {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null", "false", `""`:
		return 0, nil
	case "true":
		return 1, nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", s)
		}
		return finite(v)
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, err
	}
	return finite(v)
}

func finite(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return v, nil
}
