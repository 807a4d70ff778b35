// Package reference encodes citations into a shared conversation.
//
// A reference has the fixed form shareId:messageIndex:startChar-endChar.
// Decode is a pure syntax layer; Resolve checks the reference against a
// decrypted bundle.
package reference

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/Mindburn-Labs/verichat/pkg/share"
)

var (
	ErrMalformedReference = errors.New("reference: malformed reference")
	ErrOutOfRange         = errors.New("reference: out of range")
	ErrShareMismatch      = errors.New("reference: share id does not match bundle")
)

// PreviewLength is the number of code points Preview keeps.
const PreviewLength = 80

// Reference locates the code point range [Start, End) of one message.
type Reference struct {
	ShareID      string `json:"share_id"`
	MessageIndex int    `json:"message_index"`
	Start        int    `json:"start_char"`
	End          int    `json:"end_char"`
}

// Encode builds the compact form of a reference.
func Encode(shareID string, messageIndex, start, end int) (string, error) {
	r := Reference{ShareID: shareID, MessageIndex: messageIndex, Start: start, End: end}
	if err := r.validate(); err != nil {
		return "", err
	}
	return r.String(), nil
}

func (r Reference) String() string {
	return r.ShareID + ":" + strconv.Itoa(r.MessageIndex) + ":" + strconv.Itoa(r.Start) + "-" + strconv.Itoa(r.End)
}

func (r Reference) validate() error {
	switch {
	case !validShareID(r.ShareID):
		return fmt.Errorf("%w: invalid share id %q", ErrMalformedReference, r.ShareID)
	case r.MessageIndex < 0 || r.Start < 0 || r.End < 0:
		return fmt.Errorf("%w: negative position", ErrMalformedReference)
	case r.Start >= r.End:
		return fmt.Errorf("%w: start %d is not before end %d", ErrMalformedReference, r.Start, r.End)
	}
	return nil
}

// Decode parses the compact form.
func Decode(s string) (Reference, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Reference{}, fmt.Errorf("%w: want 3 fields, got %d", ErrMalformedReference, len(parts))
	}
	span := strings.Split(parts[2], "-")
	if len(span) != 2 {
		return Reference{}, fmt.Errorf("%w: range %q", ErrMalformedReference, parts[2])
	}

	var r Reference
	r.ShareID = parts[0]
	var err error
	if r.MessageIndex, err = parseNonNegative(parts[1]); err != nil {
		return Reference{}, err
	}
	if r.Start, err = parseNonNegative(span[0]); err != nil {
		return Reference{}, err
	}
	if r.End, err = parseNonNegative(span[1]); err != nil {
		return Reference{}, err
	}
	if err := r.validate(); err != nil {
		return Reference{}, err
	}
	return r, nil
}

func parseNonNegative(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty number", ErrMalformedReference)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q is not a non-negative integer", ErrMalformedReference, s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedReference, err)
	}
	return n, nil
}

func validShareID(id string) bool {
	if id == "" {
		return false
	}
	for _, c := range id {
		if c == ':' || unicode.IsSpace(c) || c > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// TextRange is a resolved reference.
type TextRange struct {
	MessageIndex int    `json:"message_index"`
	Start        int    `json:"start_char"`
	End          int    `json:"end_char"`
	Role         string `json:"role"`
	Text         string `json:"text"`
}

// Resolve decodes s and extracts its text from the bundle stored under
// bundleID.
func Resolve(s, bundleID string, bundle *share.Payload) (*TextRange, error) {
	r, err := Decode(s)
	if err != nil {
		return nil, err
	}
	return ResolveReference(r, bundleID, bundle)
}

// ResolveReference extracts the text r points at.
func ResolveReference(r Reference, bundleID string, bundle *share.Payload) (*TextRange, error) {
	if r.ShareID != bundleID {
		return nil, fmt.Errorf("%w: reference names %s, bundle is %s", ErrShareMismatch, r.ShareID, bundleID)
	}
	if bundle == nil || bundle.ChatData == nil {
		return nil, fmt.Errorf("%w: bundle has no conversation", ErrOutOfRange)
	}
	msgs := bundle.ChatData.Messages
	if r.MessageIndex >= len(msgs) {
		return nil, fmt.Errorf("%w: message %d of %d", ErrOutOfRange, r.MessageIndex, len(msgs))
	}
	msg := msgs[r.MessageIndex]
	runes := []rune(msg.Content)
	if r.End > len(runes) {
		return nil, fmt.Errorf("%w: end %d exceeds message length %d", ErrOutOfRange, r.End, len(runes))
	}
	return &TextRange{
		MessageIndex: r.MessageIndex,
		Start:        r.Start,
		End:          r.End,
		Role:         msg.Role,
		Text:         string(runes[r.Start:r.End]),
	}, nil
}

// Preview shortens text to PreviewLength code points.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewLength {
		return text
	}
	return string(runes[:PreviewLength]) + "…"
}
