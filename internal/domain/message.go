package domain

// MessageRecord is one persisted message, or one embed fragment of a message.
// Records are append-only and keyed by ID.
type MessageRecord struct {
	ID         string  `json:"id"`
	TypeName   string  `json:"typename"`
	Username   *string `json:"username"`
	CreateTime *string `json:"createtime"`
	Content    *string `json:"content"`
	URL        string  `json:"url"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// Deref returns the pointed-to string, or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
