// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// INDEX TESTS
// =============================================================================

func TestConversationIndex_UpsertPrependsNewIDs(t *testing.T) {
	idx := NewConversationIndex()

	if !idx.Upsert(ConversationHeader{ID: "a", Title: "A"}) {
		t.Error("first upsert of a should report new")
	}
	idx.Upsert(ConversationHeader{ID: "b", Title: "B"})

	if got := strings.Join(idx.IDs, ","); got != "b,a" {
		t.Errorf("IDs = %q, want %q", got, "b,a")
	}

	// Overwrite keeps position
	if idx.Upsert(ConversationHeader{ID: "a", Title: "A2"}) {
		t.Error("second upsert of a should not report new")
	}
	if got := strings.Join(idx.IDs, ","); got != "b,a" {
		t.Errorf("IDs after overwrite = %q, want %q", got, "b,a")
	}
	h, _ := idx.Get("a")
	if h.Title != "A2" {
		t.Errorf("Title = %q, want A2", h.Title)
	}
}

func TestConversationIndex_Remove(t *testing.T) {
	idx := NewConversationIndex()
	idx.Upsert(ConversationHeader{ID: "a"})
	idx.Upsert(ConversationHeader{ID: "b"})

	if !idx.Remove("a") {
		t.Fatal("Remove(a) = false")
	}
	if idx.Remove("a") {
		t.Error("second Remove(a) should be false")
	}
	if idx.Len() != 1 || idx.Has("a") {
		t.Errorf("index still holds a: %+v", idx)
	}
}

func TestConversationIndex_Normalize(t *testing.T) {
	idx := &ConversationIndex{
		IDs: []string{"a", "a", "ghost", "b"},
		HeadersByID: map[string]ConversationHeader{
			"a":      {ID: "a"},
			"b":      {ID: "b"},
			"orphan": {ID: "orphan"},
		},
	}
	idx.Normalize()

	require.Equal(t, []string{"a", "b", "orphan"}, idx.IDs)
	for _, id := range idx.IDs {
		require.True(t, idx.Has(id))
	}
}

func TestConversationIndex_CloneIsIndependent(t *testing.T) {
	idx := NewConversationIndex()
	idx.Upsert(ConversationHeader{ID: "a"})
	c := idx.Clone()
	c.Upsert(ConversationHeader{ID: "b"})
	c.Remove("a")

	if idx.Len() != 1 || !idx.Has("a") {
		t.Errorf("original mutated through clone: %+v", idx)
	}
}

func TestFolderIndex_UpsertAndRemove(t *testing.T) {
	idx := NewFolderIndex()
	f := NewConversationFolder("Work")
	idx.Upsert(f)
	idx.Upsert(NewConversationFolder("Home"))

	require.Len(t, idx.Folders(), 2)
	require.Equal(t, "Home", idx.Folders()[0].Name)
	require.True(t, idx.Remove(f.ID))
	require.Len(t, idx.Folders(), 1)
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewMessage_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		m := NewMessage(RoleUser, "x")
		if seen[m.ID] {
			t.Fatalf("duplicate message id %q", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestMessage_CloneIsDeep(t *testing.T) {
	start := Now()
	m := NewMessage(RoleAssistant, "hi")
	m.ReasoningStartTime = &start
	m.Error = &MessageError{Message: "boom"}
	m.Assets = []AssetRef{{ID: "h1", Type: AssetImage}}

	c := m.Clone()
	c.Assets[0].ID = "changed"
	c.Error.Message = "changed"
	*c.ReasoningStartTime = start.Add(time.Hour)

	require.Equal(t, "h1", m.Assets[0].ID)
	require.Equal(t, "boom", m.Error.Message)
	require.True(t, m.ReasoningStartTime.Equal(start))
}

func TestMessagePatch_Apply(t *testing.T) {
	m := NewMessage(RoleAssistant, "old")
	content := "new"
	aborted := true
	MessagePatch{Content: &content, Aborted: &aborted}.Apply(m)

	if m.Content != "new" || !m.Aborted {
		t.Errorf("patch not applied: %+v", m)
	}
	if m.Role != RoleAssistant {
		t.Errorf("Role changed to %q", m.Role)
	}
}

func TestAssetTypeForMIME(t *testing.T) {
	tests := map[string]AssetType{
		"image/png":       AssetImage,
		"IMAGE/JPEG":      AssetImage,
		"application/pdf": AssetPDF,
		"text/plain":      AssetFile,
		"":                AssetFile,
	}
	for mt, want := range tests {
		if got := AssetTypeForMIME(mt); got != want {
			t.Errorf("AssetTypeForMIME(%q) = %q, want %q", mt, got, want)
		}
	}
}

// =============================================================================
// PROVIDER TESTS
// =============================================================================

func TestProvider_JSONCarriesKind(t *testing.T) {
	providers := []Provider{
		NewBuiltinProvider(BuiltinProvider{ID: BuiltinOpenAI, APIKey: "sk", Enabled: true, Models: []string{"gpt-4o"}}),
		NewCustomProvider(CustomProvider{ID: "lab", Name: "Lab", BaseURL: "http://lab.local/v1", Enabled: false}),
	}

	data, err := json.Marshal(providers)
	require.NoError(t, err)
	require.Contains(t, string(data), `"kind":"builtin"`)
	require.Contains(t, string(data), `"kind":"custom"`)

	var decoded []Provider
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, providers, decoded)

	require.Equal(t, "openai", decoded[0].ID())
	require.Equal(t, "https://api.openai.com/v1", decoded[0].BaseURL())
	require.Equal(t, "http://lab.local/v1", decoded[1].BaseURL())
	require.False(t, decoded[1].Enabled())
}

func TestProvider_UnknownKindRejected(t *testing.T) {
	var p Provider
	err := json.Unmarshal([]byte(`{"kind":"plugin","id":"x"}`), &p)
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestSettings_EnabledProviders(t *testing.T) {
	s := Settings{Providers: []Provider{
		NewBuiltinProvider(BuiltinProvider{ID: BuiltinOllama, Enabled: true}),
		NewBuiltinProvider(BuiltinProvider{ID: BuiltinOpenAI}),
	}}

	enabled := s.EnabledProviders()
	require.Len(t, enabled, 1)
	require.True(t, enabled[0].IsOllama())

	_, ok := s.Provider("openai")
	require.True(t, ok)
	_, ok = s.Provider("missing")
	require.False(t, ok)
}

func TestParseModelRef(t *testing.T) {
	ref, err := ParseModelRef("openrouter/anthropic/claude-3.5-sonnet")
	require.NoError(t, err)
	require.Equal(t, ModelRef{ProviderID: "openrouter", Model: "anthropic/claude-3.5-sonnet"}, ref)
	require.Equal(t, "openrouter/anthropic/claude-3.5-sonnet", ref.String())

	for _, bad := range []string{"", "gpt-4o", "/gpt-4o", "openai/"} {
		if _, err := ParseModelRef(bad); err == nil {
			t.Errorf("ParseModelRef(%q) succeeded", bad)
		}
	}
}
