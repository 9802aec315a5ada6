package recordstore

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
)

// XataStore клиент HTTP API хранилища записей (Xata).
// baseURL указывает на ветку базы, например https://ws.region.xata.sh/db/movies:main.
type XataStore struct {
	baseURL string
	apiKey  string
	table   string
	hc      *http.Client
}

var _ Store = (*XataStore)(nil)

func NewXataStore(baseURL, apiKey, table string, timeout time.Duration) *XataStore {
	return &XataStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		table:   table,
		hc:      &http.Client{Timeout: timeout},
	}
}

type queryRequest struct {
	Filter map[string]string `json:"filter"`
	Page   struct {
		Size int `json:"size"`
	} `json:"page"`
}

type queryResponse struct {
	Records []Record `json:"records"`
}

// APIError ответ хранилища с кодом не 2xx.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("record store %s: status %d: %s", e.Op, e.Status, e.Body)
}

func (s *XataStore) Get(ctx context.Context, id string) (Record, error) {
	q := queryRequest{Filter: map[string]string{"id": id}}
	q.Page.Size = 1

	var out queryResponse
	endpoint := s.baseURL + "/tables/" + url.PathEscape(s.table) + "/query"
	if err := s.do(ctx, "query", http.MethodPost, endpoint, q, &out); err != nil {
		return Record{}, err
	}
	for _, r := range out.Records {
		if r.ID == id && strings.TrimSpace(r.URL) != "" {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

func (s *XataStore) UpdateURL(ctx context.Context, id, newURL string) error {
	endpoint := s.baseURL + "/tables/" + url.PathEscape(s.table) + "/data/" + url.PathEscape(id)
	return s.do(ctx, "patch", http.MethodPatch, endpoint, map[string]string{"url": newURL}, nil)
}

func (s *XataStore) do(ctx context.Context, op, method, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("record store %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("record store %s: decode: %w", op, err)
	}
	return nil
}
