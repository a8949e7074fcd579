package settings_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/HerbHall/stbemu/internal/settings"
	"github.com/HerbHall/stbemu/internal/store"
	"go.uber.org/zap"
)

func newRepo(t *testing.T) *settings.SQLiteRepository {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	repo, err := settings.NewSQLiteRepository(context.Background(), s)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	return repo
}

func setupHandlerEnv(t *testing.T) (*settings.SQLiteRepository, *http.ServeMux) {
	t.Helper()
	repo := newRepo(t)
	logger, _ := zap.NewDevelopment()
	mux := http.NewServeMux()
	settings.NewHandler(repo, logger).RegisterRoutes(mux)
	return repo, mux
}

func doRequest(mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestRepository_SetGetOverwrite(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	if _, err := repo.Get(ctx, settings.KeyActiveProfile); !errors.Is(err, settings.ErrNotFound) {
		t.Fatalf("Get(unset) error = %v, want ErrNotFound", err)
	}
	for _, v := range []string{"p1", "p2"} {
		if err := repo.Set(ctx, settings.KeyActiveProfile, v); err != nil {
			t.Fatalf("Set(%s): %v", v, err)
		}
	}
	s, err := repo.Get(ctx, settings.KeyActiveProfile)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Value != "p2" {
		t.Errorf("Value = %q, want p2", s.Value)
	}
	if got := settings.GetString(ctx, repo, "missing", "fallback"); got != "fallback" {
		t.Errorf("GetString(missing) = %q", got)
	}
}

func TestSplitList(t *testing.T) {
	got := settings.SplitList(settings.JoinList([]string{"mag-api", "sqlite-datasource"}) + ", ,")
	if len(got) != 2 || got[0] != "mag-api" || got[1] != "sqlite-datasource" {
		t.Errorf("SplitList = %v", got)
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	_, mux := setupHandlerEnv(t)

	w := doRequest(mux, "GET", "/api/v1/settings/active_profile", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestHandleSetThenGet(t *testing.T) {
	_, mux := setupHandlerEnv(t)

	w := doRequest(mux, "PUT", "/api/v1/settings/active_profile", settings.ValueRequest{Value: "abc"})
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body %s", w.Code, w.Body.String())
	}

	w = doRequest(mux, "GET", "/api/v1/settings/active_profile", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	var s settings.Setting
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s.Key != "active_profile" || s.Value != "abc" {
		t.Errorf("setting = %+v", s)
	}

	w = doRequest(mux, "GET", "/api/v1/settings", nil)
	var all []settings.Setting
	if err := json.NewDecoder(w.Body).Decode(&all); err != nil {
		t.Fatalf("Decode list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("list = %+v, want 1 entry", all)
	}
}

func TestHandleSet_BadBody(t *testing.T) {
	_, mux := setupHandlerEnv(t)

	req := httptest.NewRequest("PUT", "/api/v1/settings/x", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleDelete(t *testing.T) {
	repo, mux := setupHandlerEnv(t)
	ctx := context.Background()
	_ = repo.Set(ctx, "plugins", "a,b")

	w := doRequest(mux, "DELETE", "/api/v1/settings/plugins", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if _, err := repo.Get(ctx, "plugins"); !errors.Is(err, settings.ErrNotFound) {
		t.Errorf("Get after delete error = %v", err)
	}
}
