package message

import (
	"encoding/base64"
	"strings"
)

const (
	// NoBody stands in for a message with neither a text/plain part
	// nor a snippet.
	NoBody = "(no body)"

	// NoHeader stands in for a header the message does not carry.
	NoHeader = "(none)"

	plainText = "text/plain"
)

// DecodeBase64URL decodes s, which uses the URL safe base64 alphabet
// with or without padding.
func DecodeBase64URL(s string) ([]byte, error) {
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	if n := len(s) % 4; n != 0 {
		s += strings.Repeat("=", 4-n)
	}
	return base64.StdEncoding.DecodeString(s)
}

// PlainTextBody walks the part tree depth first and returns the
// decoded body of the first text/plain part carrying inline data.  A
// part whose data fails to decode is treated as having no body, so a
// sibling can still supply one.
func PlainTextBody(p *Part) (string, bool) {
	if p == nil {
		return "", false
	}
	if p.MimeType == plainText && p.Data != "" {
		b, err := DecodeBase64URL(p.Data)
		if err == nil && len(b) > 0 {
			return string(b), true
		}
		return "", false
	}
	for _, child := range p.Parts {
		if body, ok := PlainTextBody(child); ok {
			return body, true
		}
	}
	return "", false
}

// Body returns the plain text body of msg, falling back to its
// snippet and then to NoBody.
func Body(msg *Message) string {
	if body, ok := PlainTextBody(msg.Payload); ok {
		return body
	}
	if msg.Snippet != "" {
		return msg.Snippet
	}
	return NoBody
}

// HeaderValue returns the value of the first header matching name
// case insensitively, or NoHeader.
func HeaderValue(headers []Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return NoHeader
}

// Normalize flattens msg.  The body is only extracted when withBody
// is set; metadata-only fetches carry no payload worth walking.
func Normalize(msg *Message, withBody bool) Normalized {
	n := Normalized{
		ID:       msg.PermID,
		ThreadID: msg.ThreadID,
		From:     HeaderValue(msg.Headers, "From"),
		Subject:  HeaderValue(msg.Headers, "Subject"),
		Date:     HeaderValue(msg.Headers, "Date"),
		Snippet:  msg.Snippet,
	}
	if withBody {
		n.Body = Body(msg)
	}
	return n
}
