package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"msgwatch/internal/domain"
)

// ErrUnexpectedShape is returned when the latest item cannot be read as a
// message object.
var ErrUnexpectedShape = errors.New("unexpected message shape")

// Message is the latest item of a captured response. It is either a
// PlainMessage or an EmbeddedMessage, decided once by Parse.
type Message interface {
	header() Header
}

// Header holds the fields shared by both message shapes.
type Header struct {
	ID        string
	Timestamp *string
	Username  *string // nil when the item has no author
}

// PlainMessage is a message without embeds.
type PlainMessage struct {
	Header
	Content *string
}

// EmbeddedMessage is a message carrying one or more embeds.
type EmbeddedMessage struct {
	Header
	Embeds []Embed
}

// Embed is a structured sub-message nested in a parent message.
type Embed struct {
	Description *string
	Fields      []Field
	URL         string
}

// Field is one key/value pair of an embed.
type Field struct {
	Name  string
	Value string
}

func (m PlainMessage) header() Header    { return m.Header }
func (m EmbeddedMessage) header() Header { return m.Header }

type wireItem struct {
	ID        flexString   `json:"id"`
	Timestamp *flexString  `json:"timestamp"`
	Author    *wireAuthor  `json:"author"`
	Content   *string      `json:"content"`
	Embeds    []*wireEmbed `json:"embeds"`
}

type wireAuthor struct {
	Username *string `json:"username"`
}

type wireEmbed struct {
	Description *string      `json:"description"`
	Fields      []*wireField `json:"fields"`
	URL         *string      `json:"url"`
}

type wireField struct {
	Name  *flexString `json:"name"`
	Value *flexString `json:"value"`
}

// Parse decodes one raw item into its message shape. Missing author, fields
// and description are tolerated; a missing id or a non-object item is not.
func Parse(raw json.RawMessage) (Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: item is not an object", ErrUnexpectedShape)
	}

	var item wireItem
	if err := json.Unmarshal(trimmed, &item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	if item.ID == "" {
		return nil, fmt.Errorf("%w: item has no id", ErrUnexpectedShape)
	}

	h := Header{ID: string(item.ID), Timestamp: item.Timestamp.ptr()}
	if item.Author != nil {
		h.Username = item.Author.Username
	}

	if len(item.Embeds) == 0 {
		return PlainMessage{Header: h, Content: item.Content}, nil
	}

	embeds := make([]Embed, 0, len(item.Embeds))
	for _, we := range item.Embeds {
		if we == nil {
			embeds = append(embeds, Embed{})
			continue
		}
		e := Embed{Description: we.Description}
		if we.URL != nil {
			e.URL = *we.URL
		}
		for _, wf := range we.Fields {
			if wf == nil {
				continue
			}
			e.Fields = append(e.Fields, Field{
				Name:  domain.Deref(wf.Name.ptr()),
				Value: domain.Deref(wf.Value.ptr()),
			})
		}
		embeds = append(embeds, e)
	}
	return EmbeddedMessage{Header: h, Embeds: embeds}, nil
}

// flexString accepts scalars encoded as JSON strings, numbers or booleans.
type flexString string

// ptr returns the value as *string, keeping nil for an absent field.
func (f *flexString) ptr() *string {
	if f == nil {
		return nil
	}
	s := string(*f)
	return &s
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexString(strconv.FormatBool(b))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("want a string, number or boolean: %s", string(data))
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}
