package memory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/comigor/huddle/internal/history"
)

// Sentinel marks that the rest of a field is a JSON payload of a known shape.
type Sentinel string

const (
	SentinelPreferences Sentinel = "pref:"
	SentinelList        Sentinel = "list:"
	SentinelDecisions   Sentinel = "decisions:"
	SentinelEvents      Sentinel = "events:"
)

// Encoding names one of the redundant places a payload is written to.
type Encoding string

const (
	EncodingMetadata   Encoding = "metadata"
	EncodingAttachment Encoding = "attachment"
	EncodingContent    Encoding = "content"
)

// DecodeOrder is the precedence readers use within a single message. Any one
// surviving encoding is enough to recover the payload.
var DecodeOrder = []Encoding{EncodingMetadata, EncodingAttachment, EncodingContent}

// Encoded holds the three renditions of one payload.
type Encoded struct {
	Metadata   json.RawMessage
	Attachment string
	Token      string
}

// Encode renders v as structured metadata, a sentinel attachment and a sentinel content token.
func Encode(s Sentinel, v any) (Encoded, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Encoded{}, fmt.Errorf("encode %s payload: %w", strings.TrimSuffix(string(s), ":"), err)
	}
	token := string(s) + string(b)
	return Encoded{Metadata: b, Attachment: token, Token: token}, nil
}

// Apply writes every encoding onto msg. summary is the human-visible part of
// the content; the token is appended on its own line.
func (e Encoded) Apply(msg *history.Message, summary string) {
	msg.Metadata = e.Metadata
	msg.Attachments = append(msg.Attachments, e.Attachment)
	if summary == "" {
		msg.Content = e.Token
		return
	}
	msg.Content = summary + "\n" + e.Token
}

// Decode recovers a payload from msg, trying each encoding in DecodeOrder and
// returning the first one accept agrees with.
func Decode[T any](msg history.Message, s Sentinel, accept func(T) bool) (T, Encoding, bool) {
	for _, enc := range DecodeOrder {
		if v, ok := decodeFrom(msg, enc, s, accept); ok {
			return v, enc, true
		}
	}
	var zero T
	return zero, "", false
}

func decodeFrom[T any](msg history.Message, enc Encoding, s Sentinel, accept func(T) bool) (T, bool) {
	var zero T
	switch enc {
	case EncodingMetadata:
		if len(msg.Metadata) == 0 {
			return zero, false
		}
		var v T
		if err := json.Unmarshal(msg.Metadata, &v); err != nil || !accept(v) {
			return zero, false
		}
		return v, true
	case EncodingAttachment:
		for _, a := range msg.Attachments {
			rest, ok := strings.CutPrefix(a, string(s))
			if !ok {
				continue
			}
			var v T
			if err := json.Unmarshal([]byte(rest), &v); err == nil && accept(v) {
				return v, true
			}
		}
	case EncodingContent:
		content := msg.Content
		for {
			idx := strings.Index(content, string(s))
			if idx < 0 {
				break
			}
			content = content[idx+len(s):]
			if !strings.HasPrefix(strings.TrimLeft(content, " "), "{") {
				continue
			}
			var v T
			// Decoding the first value tolerates trailing text after the JSON.
			if err := json.NewDecoder(strings.NewReader(content)).Decode(&v); err == nil && accept(v) {
				return v, true
			}
		}
	}
	return zero, false
}
