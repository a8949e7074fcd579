package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/HerbHall/stbemu/pkg/plugin"
	"go.uber.org/zap"
)

func setupHandler(t *testing.T) (*env, *Switcher, *http.ServeMux) {
	t.Helper()
	e := newEnv(t)
	sw := newSwitcher(t, e)
	mux := http.NewServeMux()
	NewHandler(e.store, sw, zap.NewNop()).RegisterRoutes(mux)
	return e, sw, mux
}

func doRequest(mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHandleCreate(t *testing.T) {
	e, _, mux := setupHandler(t)

	w := doRequest(mux, "POST", "/api/v1/profiles", CreateRequest{ClassID: "mag", Submodel: "MAG322", Name: "Kitchen"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var info Info
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Name != "Kitchen" || info.Submodel != "MAG322" || info.ClassID != "mag" || info.Active {
		t.Errorf("info = %+v", info)
	}
	if _, ok := e.store.FindByID(info.ID); !ok {
		t.Error("created profile not in store")
	}
}

func TestHandleCreate_errors(t *testing.T) {
	_, _, mux := setupHandler(t)

	if w := doRequest(mux, "POST", "/api/v1/profiles", CreateRequest{ClassID: "aura"}); w.Code != http.StatusBadRequest {
		t.Errorf("unknown class status = %d, want 400", w.Code)
	}
	if w := doRequest(mux, "POST", "/api/v1/profiles", CreateRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing class status = %d, want 400", w.Code)
	}

	req := httptest.NewRequest("POST", "/api/v1/profiles", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", w.Code)
	}
}

func TestHandleList_marks_active(t *testing.T) {
	e, sw, mux := setupHandler(t)
	p1 := e.create(t, "One")
	e.create(t, "Two")
	if err := sw.SetActive(context.Background(), p1); err != nil {
		t.Fatal(err)
	}

	var list []Info
	_ = json.NewDecoder(doRequest(mux, "GET", "/api/v1/profiles", nil).Body).Decode(&list)
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if !list[0].Active || list[1].Active {
		t.Errorf("active flags = %v, %v", list[0].Active, list[1].Active)
	}
}

func TestHandleActivate_and_navigation(t *testing.T) {
	e, _, mux := setupHandler(t)
	p1 := e.create(t, "One")
	p2 := e.create(t, "Two")

	if w := doRequest(mux, "GET", "/api/v1/profiles/active", nil); w.Code != http.StatusNotFound {
		t.Errorf("active before switch = %d, want 404", w.Code)
	}
	for _, p := range []*Profile{p1, p2} {
		if w := doRequest(mux, "POST", "/api/v1/profiles/"+p.ID+"/activate", nil); w.Code != http.StatusOK {
			t.Fatalf("activate %s = %d", p.Name, w.Code)
		}
	}
	if w := doRequest(mux, "POST", "/api/v1/profiles/missing/activate", nil); w.Code != http.StatusNotFound {
		t.Errorf("activate missing = %d, want 404", w.Code)
	}

	var nav NavigationResponse
	_ = json.NewDecoder(doRequest(mux, "POST", "/api/v1/profiles/back", nil).Body).Decode(&nav)
	if !nav.Moved || nav.Active == nil || nav.Active.ID != p1.ID || len(nav.Stack) != 1 || nav.CanBack {
		t.Errorf("back = %+v", nav)
	}

	doRequest(mux, "POST", "/api/v1/profiles/"+p2.ID+"/activate", nil)
	nav = NavigationResponse{}
	_ = json.NewDecoder(doRequest(mux, "POST", "/api/v1/profiles/main", nil).Body).Decode(&nav)
	if nav.Active == nil || nav.Active.ID != p1.ID || len(nav.Stack) != 1 {
		t.Errorf("main = %+v", nav)
	}
}

func TestHandleRemove(t *testing.T) {
	e, sw, mux := setupHandler(t)
	p1 := e.create(t, "One")
	p2 := e.create(t, "Two")
	if err := sw.SetActive(context.Background(), p1); err != nil {
		t.Fatal(err)
	}

	w := doRequest(mux, "DELETE", "/api/v1/profiles/"+p1.ID, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("remove active = %d, want 409", w.Code)
	}
	if !strings.Contains(w.Body.String(), plugin.ErrProfileActive.Error()) {
		t.Errorf("remove active body = %s", w.Body.String())
	}
	if !e.store.Contains(p1) {
		t.Error("active profile was removed")
	}
	if w := doRequest(mux, "DELETE", "/api/v1/profiles/"+p2.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("remove inactive = %d, want 204", w.Code)
	}
	if w := doRequest(mux, "DELETE", "/api/v1/profiles/"+p2.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("remove twice = %d, want 404", w.Code)
	}
}

func TestHandleClasses(t *testing.T) {
	_, _, mux := setupHandler(t)

	var classes []ClassInfo
	_ = json.NewDecoder(doRequest(mux, "GET", "/api/v1/profiles/classes", nil).Body).Decode(&classes)
	if len(classes) != 1 || classes[0].ID != "mag" || len(classes[0].Submodels) != 3 {
		t.Errorf("classes = %+v", classes)
	}
}
