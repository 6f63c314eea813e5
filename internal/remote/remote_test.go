// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// NAME TESTS
// =============================================================================

func TestChatObjectNames(t *testing.T) {
	name := ChatObject("3f2a")
	require.Equal(t, "chat-3f2a.json", name)

	id, ok := ParseChatObject(name)
	require.True(t, ok)
	require.Equal(t, "3f2a", id)

	for _, bad := range []string{"config.json", "chat-.json", "chat-abc.txt", "asset-abc.png"} {
		if _, ok := ParseChatObject(bad); ok {
			t.Errorf("ParseChatObject(%q) accepted", bad)
		}
	}
}

func TestAssetObjectNames(t *testing.T) {
	name := AssetObject("abc123", ".png")
	require.Equal(t, "asset-abc123.png", name)

	id, ext, ok := ParseAssetObject(name)
	require.True(t, ok)
	require.Equal(t, "abc123", id)
	require.Equal(t, "png", ext)

	for _, bad := range []string{"asset-.png", "asset-abc", "asset-abc.", "chat-x.json"} {
		if _, _, ok := ParseAssetObject(bad); ok {
			t.Errorf("ParseAssetObject(%q) accepted", bad)
		}
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"config.json", false},
		{"chat-1.json", false},
		{"", true},
		{".hidden", true},
		{"../escape", true},
		{`a\b`, true},
	}
	for _, tt := range tests {
		if err := ValidateName(tt.name); (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

// =============================================================================
// DIR TRANSPORT TESTS
// =============================================================================

func TestDir_PutGetListDelete(t *testing.T) {
	ctx := context.Background()
	d, err := NewDir(filepath.Join(t.TempDir(), "sync"))
	require.NoError(t, err)

	require.NoError(t, d.Put(ctx, "chat-a.json", []byte(`{"id":"a"}`), "application/json"))
	require.NoError(t, d.Put(ctx, "asset-x.png", []byte{1, 2, 3}, "image/png"))
	require.NoError(t, d.Put(ctx, ConfigObject, []byte(`{}`), "application/json"))

	data, err := d.Get(ctx, "chat-a.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"a"}`, string(data))

	all, err := d.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)

	chats, err := d.List(ctx, ChatPrefix)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Equal(t, "chat-a.json", chats[0].Name)
	require.Equal(t, int64(10), chats[0].Size)

	require.NoError(t, d.Delete(ctx, "chat-a.json"))
	require.NoError(t, d.Delete(ctx, "chat-a.json"), "deleting twice is not an error")

	_, err = d.Get(ctx, "chat-a.json")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestDir_ListSkipsTempFilesAndDirs(t *testing.T) {
	root := t.TempDir()
	d, err := NewDir(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".tmp-123"), []byte("partial"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "chat-dir.json"), 0o700))
	require.NoError(t, d.Put(context.Background(), "chat-b.json", []byte("{}"), ""))

	objs, err := d.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	require.Equal(t, "chat-b.json", objs[0].Name)
}

func TestDir_RejectsEscapingNames(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)

	err = d.Put(context.Background(), "../outside", []byte("x"), "")
	var rerr *RequestError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, "put", rerr.Op)
}

func TestDir_CancelledContext(t *testing.T) {
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.List(ctx, "")
	require.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// HTTP TRANSPORT TESTS
// =============================================================================

// objectServer is an in-memory object API.
type objectServer struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	token    string
	failPuts int32
	requests int32
}

func newObjectServer(t *testing.T, token string) (*objectServer, *httptest.Server) {
	t.Helper()
	s := &objectServer{objects: make(map[string][]byte), types: make(map[string]string), token: token}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /folders/{folder}/objects", s.list)
	mux.HandleFunc("GET /folders/{folder}/objects/{name}", s.get)
	mux.HandleFunc("PUT /folders/{folder}/objects/{name}", s.put)
	mux.HandleFunc("DELETE /folders/{folder}/objects/{name}", s.delete)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.requests, 1)
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"invalid token"}`)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)
	return s, server
}

func key(r *http.Request) string {
	return r.PathValue("folder") + "/" + r.PathValue("name")
}

func (s *objectServer) list(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := r.PathValue("folder") + "/" + r.URL.Query().Get("prefix")
	var out listResponse
	for k, v := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out.Objects = append(out.Objects, Object{
				Name:    strings.TrimPrefix(k, r.PathValue("folder")+"/"),
				Size:    int64(len(v)),
				ModTime: time.Now().UTC(),
			})
		}
	}
	sort.Slice(out.Objects, func(i, j int) bool { return out.Objects[i].Name < out.Objects[j].Name })
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *objectServer) get(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	data, ok := s.objects[key(r)]
	ct := s.types[key(r)]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", ct)
	w.Write(data)
}

func (s *objectServer) put(w http.ResponseWriter, r *http.Request) {
	if atomic.AddInt32(&s.failPuts, -1) >= 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	data, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.objects[key(r)] = data
	s.types[key(r)] = r.Header.Get("Content-Type")
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *objectServer) delete(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	_, ok := s.objects[key(r)]
	delete(s.objects, key(r))
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func newHTTP(t *testing.T, url, token string, retries int) *HTTP {
	t.Helper()
	h, err := NewHTTP(HTTPConfig{
		BaseURL:    url,
		Folder:     "chats",
		Token:      StaticToken(token),
		MaxRetries: retries,
		RetryWait:  time.Millisecond,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	return h
}

func TestHTTP_RoundTrip(t *testing.T) {
	srv, server := newObjectServer(t, "secret")
	h := newHTTP(t, server.URL, "secret", -1)
	ctx := context.Background()

	require.NoError(t, h.Put(ctx, "chat-1.json", []byte(`{"id":"1"}`), "application/json"))
	require.NoError(t, h.Put(ctx, "asset-ab.png", []byte{0x89}, "image/png"))

	data, err := h.Get(ctx, "chat-1.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"1"}`, string(data))
	require.Equal(t, "image/png", srv.types["chats/asset-ab.png"])

	chats, err := h.List(ctx, ChatPrefix)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Equal(t, "chat-1.json", chats[0].Name)

	require.NoError(t, h.Delete(ctx, "chat-1.json"))
	require.NoError(t, h.Delete(ctx, "chat-1.json"))
	_, err = h.Get(ctx, "chat-1.json")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestHTTP_Unauthorized(t *testing.T) {
	_, server := newObjectServer(t, "secret")
	h := newHTTP(t, server.URL, "wrong", 3)

	_, err := h.List(context.Background(), "")
	var rerr *RequestError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, http.StatusUnauthorized, rerr.StatusCode)
	require.Equal(t, "invalid token", rerr.Message)
	require.Equal(t, "401", rerr.Code())
}

func TestHTTP_RetriesServerErrors(t *testing.T) {
	srv, server := newObjectServer(t, "")
	atomic.StoreInt32(&srv.failPuts, 1)
	h := newHTTP(t, server.URL, "", 2)

	require.NoError(t, h.Put(context.Background(), "chat-r.json", []byte("{}"), "application/json"))
	require.Equal(t, int32(2), atomic.LoadInt32(&srv.requests))
}

func TestHTTP_GivesUpAfterRetries(t *testing.T) {
	srv, server := newObjectServer(t, "")
	atomic.StoreInt32(&srv.failPuts, 10)
	h := newHTTP(t, server.URL, "", 1)

	err := h.Put(context.Background(), "chat-r.json", []byte("{}"), "")
	var rerr *RequestError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, http.StatusServiceUnavailable, rerr.StatusCode)
	require.Equal(t, int32(2), atomic.LoadInt32(&srv.requests))
}

func TestHTTP_TokenSourceError(t *testing.T) {
	_, server := newObjectServer(t, "")
	h, err := NewHTTP(HTTPConfig{
		BaseURL: server.URL,
		Folder:  "chats",
		Token: func(context.Context) (string, error) {
			return "", errors.New("refresh failed")
		},
	})
	require.NoError(t, err)

	_, err = h.Get(context.Background(), "config.json")
	require.ErrorContains(t, err, "refresh failed")
}

func TestHTTP_RateLimitHonorsContext(t *testing.T) {
	_, server := newObjectServer(t, "")
	h, err := NewHTTP(HTTPConfig{BaseURL: server.URL, Folder: "chats", RequestsPerSecond: 0.1, Burst: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.List(ctx, "")
	require.NoError(t, err, "first request uses the burst")

	_, err = h.List(ctx, "")
	require.Error(t, err, "second request cannot fit before the deadline")
}

func TestNewHTTP_RequiresBaseURLAndFolder(t *testing.T) {
	if _, err := NewHTTP(HTTPConfig{Folder: "x"}); err == nil {
		t.Error("expected error without base URL")
	}
	if _, err := NewHTTP(HTTPConfig{BaseURL: "http://localhost"}); err == nil {
		t.Error("expected error without folder")
	}
}
