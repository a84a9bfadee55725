package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"

	"warden/config"
	"warden/internal/keys"
	"warden/internal/registry"
)

type okValidator struct{}

func (okValidator) Validate(context.Context, string) error { return nil }

func testRouter(t *testing.T) (*mux.Router, *registry.Registry) {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{}
	cfg.WireGuard.Interface = "wg0"
	cfg.WireGuard.Dir = filepath.Join(root, "wireguard")
	cfg.WireGuard.Subnet = "10.0.0.0/24"
	cfg.WireGuard.ListenPort = 51820
	cfg.WireGuard.Endpoint = "vpn.test:51820"
	cfg.Keys.Dir = filepath.Join(root, "keys")
	cfg.Clients.Dir = filepath.Join(root, "clients")

	reg := registry.New(cfg, keys.WGGenerator{}, okValidator{}, nil)
	if _, err := reg.Reinitialize(context.Background(), registry.Flags{Reinit: true}); err != nil {
		t.Fatal(err)
	}

	h := NewHandler(reg, nil)
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/peers", h.ListPeers).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/peers", h.AddPeer).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/peers/{id}", h.DeletePeer).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/peers/{id}/config", h.PeerConfig).Methods(http.MethodGet)
	return r, reg
}

func doJSON(t *testing.T, r *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAddAndListPeers(t *testing.T) {
	r, _ := testRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/peers", map[string]any{"name": "alice"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", w.Code, w.Body.String())
	}
	var res registry.AddResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Address != "10.0.0.2" || !res.KeyKnown {
		t.Errorf("add result = %+v", res)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/peers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var roster registry.Roster
	if err := json.Unmarshal(w.Body.Bytes(), &roster); err != nil {
		t.Fatal(err)
	}
	if len(roster.Peers) != 1 || roster.Peers[0].Name != "alice" {
		t.Errorf("roster = %+v", roster.Peers)
	}
}

func TestAddInvalidNameRejected(t *testing.T) {
	r, _ := testRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/peers", map[string]any{"name": "../escape"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestDuplicateNameConflict(t *testing.T) {
	r, _ := testRouter(t)

	doJSON(t, r, http.MethodPost, "/api/v1/peers", map[string]any{"name": "alice"})
	w := doJSON(t, r, http.MethodPost, "/api/v1/peers", map[string]any{"name": "alice"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate add status = %d, want 409", w.Code)
	}

	// с флагом overwrite — перезапись
	w = doJSON(t, r, http.MethodPost, "/api/v1/peers", map[string]any{"name": "alice", "overwrite": true})
	if w.Code != http.StatusCreated {
		t.Errorf("overwrite status = %d: %s", w.Code, w.Body.String())
	}
}

func TestDeletePeer(t *testing.T) {
	r, _ := testRouter(t)
	doJSON(t, r, http.MethodPost, "/api/v1/peers", map[string]any{"name": "alice"})

	w := doJSON(t, r, http.MethodDelete, "/api/v1/peers/alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doJSON(t, r, http.MethodDelete, "/api/v1/peers/alice", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestPeerConfigUnknownKey(t *testing.T) {
	r, reg := testRouter(t)

	_, pub, err := keys.WGGenerator{}.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Add(context.Background(), registry.AddRequest{Name: "ext", PublicKey: pub}, registry.Flags{}); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, r, http.MethodGet, "/api/v1/peers/ext/config", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("config status = %d, want 404 (private key unknown)", w.Code)
	}
}

func TestPeerConfigManaged(t *testing.T) {
	r, _ := testRouter(t)
	doJSON(t, r, http.MethodPost, "/api/v1/peers", map[string]any{"name": "alice"})

	w := doJSON(t, r, http.MethodGet, "/api/v1/peers/alice/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("config status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("[Interface]")) {
		t.Error("response is not a client config")
	}
}
