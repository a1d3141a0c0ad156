package apikey

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/sqlite"
	"github.com/go-chi/chi/v5"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	client, err := sqlite.New(context.Background(), config.SQLiteConfig{Path: sqlite.MemoryPath})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	s := NewStore(client.DB, func(int) string { return "?" })
	if err := s.CreateTable(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCreateAndValidate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	raw, info, err := s.CreateKey(ctx, "ops", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 64 || info.ExpiresAt != nil {
		t.Fatalf("raw=%q info=%+v", raw, info)
	}

	got, err := s.Validate(ctx, raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != info.ID || got.Name != "ops" {
		t.Errorf("validated %+v, want %+v", got, info)
	}
	if _, err := s.Validate(ctx, "not-a-key"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("unknown key err = %v", err)
	}
}

func TestExpiry(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	raw, info, err := s.CreateKey(ctx, "temp", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if info.ExpiresAt == nil || !info.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("ExpiresAt = %v", info.ExpiresAt)
	}
	if _, err := s.Validate(ctx, raw); err != nil {
		t.Fatalf("fresh key rejected: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := s.Validate(ctx, raw); !errors.Is(err, ErrExpiredKey) {
		t.Errorf("expired key err = %v", err)
	}
}

func TestRevokeAndList(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	rawA, a, _ := s.CreateKey(ctx, "a", 0)
	_, b, _ := s.CreateKey(ctx, "b", 0)

	if err := s.Revoke(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Validate(ctx, rawA); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("revoked key err = %v", err)
	}
	if err := s.Revoke(ctx, "missing"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("revoke missing err = %v", err)
	}

	keys, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0].ID != b.ID {
		t.Errorf("List = %+v", keys)
	}
}

func TestRequire(t *testing.T) {
	s := newStore(t)
	raw, info, _ := s.CreateKey(context.Background(), "ops", 0)

	var seen *KeyInfo
	h := Require(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"bearer", "Authorization", "Bearer " + raw, http.StatusOK},
		{"header", "X-API-Key", raw, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "X-API-Key", "nope", http.StatusUnauthorized},
		{"basic scheme", "Authorization", "Basic " + raw, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && (seen == nil || seen.ID != info.ID) {
				t.Errorf("key in context = %+v", seen)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	s := newStore(t)
	r := chi.NewRouter()
	h := NewHandler(s)
	r.Post("/keys", h.Create)
	r.Get("/keys", h.List)
	r.Delete("/keys/{id}", h.Revoke)

	do := func(method, target, body string) *httptest.ResponseRecorder {
		t.Helper()
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
		return rec
	}

	rec := do(http.MethodPost, "/keys", `{"name":"ci","ttl":"24h"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	var created createResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.Key == "" || created.Name != "ci" || created.ExpiresAt == nil {
		t.Errorf("created = %+v", created)
	}
	if _, err := s.Validate(context.Background(), created.Key); err != nil {
		t.Errorf("created key rejected: %v", err)
	}

	for _, body := range []string{`{}`, `{"name":"x","ttl":"soon"}`, `not json`} {
		if rec := do(http.MethodPost, "/keys", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", body, rec.Code)
		}
	}

	rec = do(http.MethodGet, "/keys", "")
	var listed struct {
		Keys  []KeyInfo `json:"keys"`
		Count int       `json:"count"`
	}
	json.NewDecoder(rec.Body).Decode(&listed)
	if listed.Count != 1 || listed.Keys[0].ID != created.ID {
		t.Errorf("listed = %+v", listed)
	}

	if rec := do(http.MethodDelete, "/keys/"+created.ID, ""); rec.Code != http.StatusNoContent {
		t.Errorf("revoke status = %d", rec.Code)
	}
	if rec := do(http.MethodDelete, "/keys/"+created.ID, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second revoke status = %d", rec.Code)
	}
}
