// Package extract turns the latest item of a captured response into
// canonical message records.
package extract

import (
	"fmt"
	"strings"

	"msgwatch/internal/domain"
)

// Extractor builds MessageRecords from parsed messages.
type Extractor struct {
	// SuffixSingleEmbed appends "_0" to the id of a message that carries
	// exactly one embed. Messages with two or more embeds are always
	// suffixed with their embed index.
	SuffixSingleEmbed bool
}

// New returns an Extractor with the default id rule (always suffix embeds).
func New() *Extractor {
	return &Extractor{SuffixSingleEmbed: true}
}

// Extract returns one record per embed, or a single record for a plain
// message. It performs no I/O.
func (x *Extractor) Extract(msg Message, typename string) []domain.MessageRecord {
	h := msg.header()

	switch m := msg.(type) {
	case EmbeddedMessage:
		records := make([]domain.MessageRecord, 0, len(m.Embeds))
		for i, e := range m.Embeds {
			id := fmt.Sprintf("%s_%d", h.ID, i)
			if len(m.Embeds) == 1 && !x.SuffixSingleEmbed {
				id = h.ID
			}
			records = append(records, domain.MessageRecord{
				ID:         id,
				TypeName:   typename,
				Username:   h.Username,
				CreateTime: h.Timestamp,
				Content:    embedContent(e),
				URL:        e.URL,
			})
		}
		return records
	case PlainMessage:
		return []domain.MessageRecord{{
			ID:         h.ID,
			TypeName:   typename,
			Username:   h.Username,
			CreateTime: h.Timestamp,
			Content:    m.Content,
			URL:        "",
		}}
	}
	return nil
}

// embedContent joins the description with "\nname:value" for each field.
// An embed with neither description nor fields has nil content.
func embedContent(e Embed) *string {
	if len(e.Fields) == 0 {
		return e.Description
	}
	var sb strings.Builder
	sb.WriteString(domain.Deref(e.Description))
	for _, f := range e.Fields {
		sb.WriteString("\n")
		sb.WriteString(f.Name)
		sb.WriteString(":")
		sb.WriteString(f.Value)
	}
	s := sb.String()
	return &s
}
