package domain

import "strings"

// MonitorTarget is one monitored page, identified by a type label and URL.
type MonitorTarget struct {
	TypeName string `json:"typename" yaml:"typename"`
	URL      string `json:"url" yaml:"url"`
}

// Valid reports whether the target has a URL to visit.
func (t MonitorTarget) Valid() bool {
	return strings.TrimSpace(t.URL) != ""
}
