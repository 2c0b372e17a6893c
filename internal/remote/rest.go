package remote

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

	"github.com/dukerupert/teacaddy/internal/model"
)

// RESTConfig points at a PostgREST endpoint such as a Supabase project.
type RESTConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// TokenFunc returns the caller's access token, or "" to fall back to the API key.
type TokenFunc func() string

type restClient struct {
	baseURL    string
	apiKey     string
	token      TokenFunc
	httpClient *http.Client
}

// NewREST creates a backend that reads and writes the teas and brew_logs
// tables through PostgREST.
func NewREST(cfg RESTConfig, token TokenFunc) (*Backend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rest remote: url is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &restClient{
		baseURL:    strings.TrimRight(cfg.URL, "/") + "/rest/v1/",
		apiKey:     cfg.APIKey,
		token:      token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	return &Backend{
		Teas: &restTable[model.Tea, teaRow]{
			c: c, table: model.CollectionTeas, toRow: newTeaRow, fromRow: teaRow.tea,
		},
		BrewLogs: &restTable[model.BrewLog, brewLogRow]{
			c: c, table: model.CollectionBrewLogs, toRow: newBrewLogRow, fromRow: brewLogRow.brewLog,
		},
	}, nil
}

func (c *restClient) do(ctx context.Context, method, table string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.baseURL + table
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost {
		req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	bearer := c.apiKey
	if c.token != nil {
		if tok := c.token(); tok != "" {
			bearer = tok
		}
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, table, model.ErrRemote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %w: status %d: %s", method, table, model.ErrRemote, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w: %w", table, model.ErrRemote, err)
	}
	return nil
}

// restTable maps records of type T to rows of type R for one table.
type restTable[T any, R any] struct {
	c       *restClient
	table   string
	toRow   func(ownerID string, record T) R
	fromRow func(R) T
}

func (t *restTable[T, R]) List(ctx context.Context, ownerID string) ([]T, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("user_id", "eq."+ownerID)

	var rows []R
	if err := t.c.do(ctx, http.MethodGet, t.table, q, nil, &rows); err != nil {
		return nil, fmt.Errorf("list %s: %w", t.table, err)
	}
	records := make([]T, 0, len(rows))
	for _, r := range rows {
		records = append(records, t.fromRow(r))
	}
	return records, nil
}

func (t *restTable[T, R]) Upsert(ctx context.Context, ownerID string, records ...T) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]R, 0, len(records))
	for _, r := range records {
		rows = append(rows, t.toRow(ownerID, r))
	}
	q := url.Values{}
	q.Set("on_conflict", "id")
	if err := t.c.do(ctx, http.MethodPost, t.table, q, rows, nil); err != nil {
		return fmt.Errorf("upsert %d %s: %w", len(records), t.table, err)
	}
	return nil
}

func (t *restTable[T, R]) Delete(ctx context.Context, ownerID, id string) error {
	q := url.Values{}
	q.Set("id", "eq."+id)
	q.Set("user_id", "eq."+ownerID)
	if err := t.c.do(ctx, http.MethodDelete, t.table, q, nil, nil); err != nil {
		return fmt.Errorf("delete %s %s: %w", t.table, id, err)
	}
	return nil
}
