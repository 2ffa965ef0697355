package vaultapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

const testToken = "s.test"

type kvEntry struct {
	data    map[string]interface{}
	version int
	custom  map[string]interface{}
}

// fakeVault serves the subset of the Vault API the client uses.
type fakeVault struct {
	mu      sync.Mutex
	sealed  bool
	kv      map[string]*kvEntry
	logins  int
	jwtRole string
}

func newFakeVault(t *testing.T) (*fakeVault, *httptest.Server) {
	f := &fakeVault{kv: map[string]*kvEntry{}}

	r := mux.NewRouter()
	r.HandleFunc("/v1/sys/seal-status", f.sealStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/auth/jwt/login", f.login).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/v1/secret/data/{path:.+}", f.authed(f.readData)).Methods(http.MethodGet)
	r.HandleFunc("/v1/secret/data/{path:.+}", f.authed(f.writeData)).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/v1/secret/metadata/{path:.+}", f.authed(f.readMetadata)).Methods(http.MethodGet)
	r.HandleFunc("/v1/secret/metadata/{path:.+}", f.authed(f.patchMetadata)).Methods(http.MethodPatch)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{}})
}

func (f *fakeVault) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tok := r.Header.Get("X-Vault-Token")
		if tok != testToken && tok != "s.jwt" {
			writeJSON(w, http.StatusForbidden, map[string]interface{}{"errors": []string{"permission denied"}})
			return
		}
		next(w, r)
	}
}

func (f *fakeVault) sealStatus(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"type": "shamir", "initialized": true, "sealed": f.sealed,
		"t": 1, "n": 1, "progress": 0, "version": "1.16.0",
	})
}

func (f *fakeVault) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
		JWT  string `json:"jwt"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	f.jwtRole = body.Role
	if body.JWT == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": []string{"missing jwt"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"auth": map[string]interface{}{"client_token": "s.jwt", "policies": []string{"default"}},
	})
}

func versionMetadata(version int) map[string]interface{} {
	return map[string]interface{}{
		"created_time":  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339Nano),
		"deletion_time": "",
		"destroyed":     false,
		"version":       version,
	}
}

func (f *fakeVault) readData(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.kv[mux.Vars(r)["path"]]
	if !ok {
		notFound(w)
		return
	}
	meta := versionMetadata(entry.version)
	meta["custom_metadata"] = entry.custom
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"data": entry.data, "metadata": meta},
	})
}

func (f *fakeVault) writeData(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data    map[string]interface{} `json:"data"`
		Options map[string]interface{} `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": []string{err.Error()}})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	path := mux.Vars(r)["path"]
	entry, ok := f.kv[path]
	if !ok {
		entry = &kvEntry{}
		f.kv[path] = entry
	}
	if cas, ok := body.Options["cas"].(float64); ok && int(cas) != entry.version {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": []string{"check-and-set parameter did not match the current version"}})
		return
	}
	entry.data = body.Data
	entry.version++
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": versionMetadata(entry.version)})
}

func (f *fakeVault) readMetadata(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.kv[mux.Vars(r)["path"]]
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"current_version": entry.version, "custom_metadata": entry.custom},
	})
}

func (f *fakeVault) patchMetadata(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustomMetadata map[string]interface{} `json:"custom_metadata"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.kv[mux.Vars(r)["path"]]
	if !ok {
		notFound(w)
		return
	}
	// PATCH merges custom metadata like Vault does.
	if entry.custom == nil {
		entry.custom = make(map[string]interface{})
	}
	for k, v := range body.CustomMetadata {
		entry.custom[k] = v
	}
	w.WriteHeader(http.StatusNoContent)
}
