package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"msgwatch/internal/domain"
)

// PostgRESTConfig configures the PostgREST (Supabase REST) adapter.
type PostgRESTConfig struct {
	URL        string            // project URL, e.g. https://<ref>.supabase.co
	Key        string            // anon or service role key
	Table      string
	Headers    map[string]string // extra headers sent with every request
	HTTPClient *http.Client
}

// PostgREST writes rows through the PostgREST HTTP interface.
type PostgREST struct {
	endpoint string
	key      string
	headers  map[string]string
	client   *http.Client
}

func NewPostgREST(cfg PostgRESTConfig) (*PostgREST, error) {
	if cfg.URL == "" || cfg.Key == "" {
		return nil, fmt.Errorf("postgrest: url and key are required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("postgrest: table is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("postgrest: invalid url: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &PostgREST{
		endpoint: strings.TrimRight(cfg.URL, "/") + "/rest/v1/" + url.PathEscape(cfg.Table),
		key:      cfg.Key,
		headers:  cfg.Headers,
		client:   client,
	}, nil
}

func (p *PostgREST) Insert(ctx context.Context, rec domain.MessageRecord) error {
	return p.post(ctx, rec, false)
}

func (p *PostgREST) Upsert(ctx context.Context, rec domain.MessageRecord) error {
	return p.post(ctx, rec, true)
}

func (p *PostgREST) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// Get selects the row with id. Row level security that hides the row from
// the key yields nil, not an error.
func (p *PostgREST) Get(ctx context.Context, id string) (*domain.MessageRecord, error) {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("select", "id,typename,username,createtime,content,url")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("postgrest request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyPostgRESTResponse(resp.StatusCode, body)
	}

	var rows []domain.MessageRecord
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (p *PostgREST) authorize(req *http.Request) {
	req.Header.Set("apikey", p.key)
	req.Header.Set("Authorization", "Bearer "+p.key)
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
}

// postgrestError is the JSON error body PostgREST returns.
type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (p *PostgREST) post(ctx context.Context, rec domain.MessageRecord, upsert bool) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	endpoint := p.endpoint
	prefer := "return=minimal"
	if upsert {
		endpoint += "?on_conflict=id"
		prefer += ",resolution=merge-duplicates"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", prefer)
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("postgrest request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return classifyPostgRESTResponse(resp.StatusCode, body)
}

func classifyPostgRESTResponse(status int, body []byte) error {
	var pe postgrestError
	_ = json.Unmarshal(body, &pe)

	msg := pe.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	if pe.Hint != "" {
		msg += " (hint: " + pe.Hint + ")"
	}

	kind := classifySQLState(pe.Code)
	if pe.Code == "" {
		switch status {
		case http.StatusConflict:
			kind = KindDuplicate
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = KindPermission
		case http.StatusNotFound:
			kind = KindMissingResource
		}
	}

	code := pe.Code
	if code == "" {
		code = fmt.Sprintf("HTTP %d", status)
	}
	return &Error{Kind: kind, Code: code, Message: msg}
}
