package message

// This file provides the common data objects used by the rest of the
// program.

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// ID defines the properties that uniquely identify a message.
type ID struct {
	// The permanent and unique ID of a message in a storage
	// system.
	PermID string

	// The permanent and unique ID of a thread associated with the
	// message.  May be empty in storage systems that do not
	// support this concept.
	ThreadID string
}

// ChangeEvent is the payload published by the mailbox provider when
// something in a mailbox changed.
type ChangeEvent struct {
	EmailAddress string `json:"emailAddress"`

	// The provider's history cursor at which the change happened.
	// Kept as the decimal string the provider sent; it may not fit
	// in a float64 and is never converted to one.
	HistoryID string `json:"historyId"`
}

// UnmarshalJSON accepts historyId as either a JSON string or a JSON
// number.
func (e *ChangeEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		EmailAddress string          `json:"emailAddress"`
		HistoryID    json.RawMessage `json:"historyId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.EmailAddress = raw.EmailAddress
	e.HistoryID = ""
	if len(raw.HistoryID) == 0 || string(raw.HistoryID) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.HistoryID, &s); err == nil {
		e.HistoryID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.HistoryID, &n); err == nil {
		e.HistoryID = strings.TrimSpace(n.String())
		return nil
	}
	return errors.Errorf("historyId must be a string or number, got %s", raw.HistoryID)
}

// HistoryRecord is one entry of a mailbox change log.
type HistoryRecord struct {
	ID            string
	MessagesAdded []ID
}

// HistoryPage is one page of the change log.  A non-empty
// NextPageToken means more pages follow.
type HistoryPage struct {
	History       []HistoryRecord
	HistoryID     string
	NextPageToken string
}

// Header is a single message header.
type Header struct {
	Name  string
	Value string
}

// Part is a node in a message's MIME tree.  Data holds the part's
// inline body, base64url encoded, when the provider sent one.
type Part struct {
	MimeType string
	Data     string
	Parts    []*Part
}

// Message is a message as delivered by the provider, before
// normalization.
type Message struct {
	ID
	Snippet string
	Headers []Header
	Payload *Part
}

// Normalized is the flattened result of decoding one message.
type Normalized struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId,omitempty"`
	From     string `json:"from"`
	Subject  string `json:"subject"`
	Date     string `json:"date"`
	Body     string `json:"body,omitempty"`
	Snippet  string `json:"snippet"`
}

// Subscription describes an active push notification watch on a
// mailbox.
type Subscription struct {
	Topic string `json:"topic"`

	// The mailbox's current history cursor when the watch started.
	HistoryID string `json:"historyId"`

	// Milliseconds since the epoch, as a decimal string, after
	// which the provider stops publishing.
	Expiration string `json:"expiration"`
}
