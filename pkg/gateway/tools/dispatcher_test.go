package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aj47/awaken-ambience/pkg/gateway/upstream"
	"github.com/aj47/awaken-ambience/pkg/memory"
)

// fakeStore is an in-memory memory.Store for dispatcher tests.
type fakeStore struct {
	nextID  int64
	records map[int64]memory.Record
	failure error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[int64]memory.Record{}}
}

func (f *fakeStore) StoreMemory(_ context.Context, username, content, memType, _ string, _ []string) (int64, error) {
	if f.failure != nil {
		return 0, f.failure
	}
	f.nextID++
	f.records[f.nextID] = memory.Record{
		ID:        f.nextID,
		Username:  username,
		Content:   content,
		Type:      memType,
		CreatedAt: time.Now().Add(time.Duration(f.nextID) * time.Second),
	}
	return f.nextID, nil
}

func (f *fakeStore) userRecords(username string) []memory.Record {
	var out []memory.Record
	for _, r := range f.records {
		if r.Username == username {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (f *fakeStore) GetRecentMemories(_ context.Context, username string, limit int) ([]memory.Record, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	out := f.userRecords(username)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) SearchMemories(_ context.Context, username, query string, limit int) ([]memory.Record, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	var out []memory.Record
	for _, r := range f.userRecords(username) {
		if strings.Contains(r.Content, query) {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetAllMemories(_ context.Context, username string) ([]memory.Record, error) {
	return f.userRecords(username), nil
}

func (f *fakeStore) GetMemory(_ context.Context, id int64, username string) (memory.Record, error) {
	r, ok := f.records[id]
	if !ok || r.Username != username {
		return memory.Record{}, memory.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) DeleteMemory(_ context.Context, id int64, username string) error {
	r, ok := f.records[id]
	if !ok || r.Username != username {
		return memory.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeStore) UpdateMemory(_ context.Context, id int64, content, username string) error {
	r, ok := f.records[id]
	if !ok || r.Username != username {
		return memory.ErrNotFound
	}
	r.Content = content
	f.records[id] = r
	return nil
}

func (f *fakeStore) GetUserConfig(context.Context, string) (json.RawMessage, bool, error) {
	return nil, false, nil
}

func (f *fakeStore) SetUserConfig(context.Context, string, json.RawMessage) error { return nil }

func (f *fakeStore) GetUserPasswordHash(context.Context, string) (string, error) {
	return "", memory.ErrNotFound
}

func (f *fakeStore) UpsertUser(context.Context, string, string) error { return nil }

var _ memory.Store = (*fakeStore)(nil)

func dispatch(t *testing.T, d *Dispatcher, name string, args map[string]any) (upstream.FunctionResponse, string) {
	t.Helper()
	return d.Dispatch(context.Background(), upstream.FunctionCall{
		ID:   "call-1",
		Name: name,
		Args: args,
	}, "alice")
}

func responseContent(t *testing.T, resp upstream.FunctionResponse) any {
	t.Helper()
	if resp.Response["name"] != resp.Name {
		t.Fatalf("response name=%v, want %s", resp.Response["name"], resp.Name)
	}
	return resp.Response["content"]
}

func TestDispatch_StoreMemory(t *testing.T) {
	store := newFakeStore()
	d := NewDispatcher(store, nil)

	resp, summary := dispatch(t, d, NameStoreMemory, map[string]any{
		"client_id": "ignored",
		"content":   "likes green tea",
		"tags":      []any{"drink"},
	})

	content, ok := responseContent(t, resp).(map[string]any)
	if !ok || content["success"] != true {
		t.Fatalf("content=%v, want success", content)
	}
	if !strings.HasPrefix(summary, "Stored memory: likes green tea") {
		t.Errorf("summary=%q", summary)
	}
	rec := store.records[1]
	if rec.Username != "alice" {
		t.Errorf("stored under %q, want the authenticated user", rec.Username)
	}
	if rec.Type != memory.TypeConversation {
		t.Errorf("type=%q, want default %q", rec.Type, memory.TypeConversation)
	}
}

func TestDispatch_GetRecentMemoriesHonorsLimit(t *testing.T) {
	store := newFakeStore()
	d := NewDispatcher(store, nil)
	for i := 1; i <= 5; i++ {
		if _, err := store.StoreMemory(context.Background(), "alice",
			fmt.Sprintf("memory %d", i), memory.TypeConversation, "", nil); err != nil {
			t.Fatal(err)
		}
	}

	resp, summary := dispatch(t, d, NameGetRecentMemories, map[string]any{"limit": float64(3)})

	records, ok := responseContent(t, resp).([]map[string]any)
	if !ok || len(records) != 3 {
		t.Fatalf("records=%v, want 3 entries", records)
	}
	if records[0]["content"] != "memory 5" {
		t.Errorf("first=%v, want newest first", records[0]["content"])
	}
	if !strings.HasPrefix(summary, "Here are your recent memories:") {
		t.Errorf("summary=%q", summary)
	}
}

func TestDispatch_SearchMemories(t *testing.T) {
	store := newFakeStore()
	d := NewDispatcher(store, nil)
	for _, content := range []string{"bought oranges", "bought apples", "sold apples"} {
		if _, err := store.StoreMemory(context.Background(), "alice",
			content, memory.TypeConversation, "", nil); err != nil {
			t.Fatal(err)
		}
	}

	resp, summary := dispatch(t, d, NameSearchMemories, map[string]any{"query": "apples"})

	records, _ := responseContent(t, resp).([]map[string]any)
	if len(records) != 2 {
		t.Fatalf("records=%v, want 2 matches", records)
	}
	if !strings.HasPrefix(summary, "Found 2 memories matching 'apples':") {
		t.Errorf("summary=%q", summary)
	}
}

func TestDispatch_DeleteAndUpdate(t *testing.T) {
	store := newFakeStore()
	d := NewDispatcher(store, nil)
	id, err := store.StoreMemory(context.Background(), "alice", "old", memory.TypeConversation, "", nil)
	if err != nil {
		t.Fatal(err)
	}

	_, summary := dispatch(t, d, NameUpdateMemory, map[string]any{
		"memory_id": float64(id), "new_content": "new",
	})
	if summary != fmt.Sprintf("Successfully updated memory ID %d", id) {
		t.Errorf("summary=%q", summary)
	}
	if store.records[id].Content != "new" {
		t.Errorf("content=%q, want updated", store.records[id].Content)
	}

	_, summary = dispatch(t, d, NameDeleteMemory, map[string]any{"memory_id": float64(id)})
	if summary != fmt.Sprintf("Successfully deleted memory ID %d", id) {
		t.Errorf("summary=%q", summary)
	}
	if _, ok := store.records[id]; ok {
		t.Error("record not deleted")
	}
}

func TestDispatch_FailuresBecomeErrorPayloads(t *testing.T) {
	store := newFakeStore()
	store.failure = errors.New("disk full")
	d := NewDispatcher(store, nil)

	tests := []struct {
		name string
		args map[string]any
	}{
		{NameStoreMemory, map[string]any{"content": "x"}},
		{NameGetRecentMemories, nil},
		{"no_such_tool", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, summary := dispatch(t, d, tt.name, tt.args)
			content, ok := responseContent(t, resp).(map[string]any)
			if !ok {
				t.Fatalf("content=%v, want error map", resp.Response["content"])
			}
			if _, ok := content["error"]; !ok {
				t.Errorf("content=%v, want error key", content)
			}
			if summary == "" {
				t.Error("summary is empty, want an apology the model can speak")
			}
		})
	}
}

func TestDispatch_CrossUserDeleteRejected(t *testing.T) {
	store := newFakeStore()
	d := NewDispatcher(store, nil)
	id, err := store.StoreMemory(context.Background(), "bob", "bob's secret", memory.TypeConversation, "", nil)
	if err != nil {
		t.Fatal(err)
	}

	resp, _ := dispatch(t, d, NameDeleteMemory, map[string]any{"memory_id": float64(id)})
	content, _ := responseContent(t, resp).(map[string]any)
	if _, ok := content["error"]; !ok {
		t.Fatalf("content=%v, want error for cross-user delete", content)
	}
	if _, ok := store.records[id]; !ok {
		t.Error("bob's record was deleted by alice")
	}
}

func TestTruncate_KeepsRuneBoundaries(t *testing.T) {
	cases := []struct {
		name string
		in   string
		n    int
	}{
		{"ascii within limit", "short note", 50},
		{"ascii cut", strings.Repeat("a", 60), 50},
		{"multibyte cut mid rune", strings.Repeat("日本語のメモ", 20), 50},
		{"emoji cut mid rune", strings.Repeat("🙂", 30), 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := truncate(tc.in, tc.n)
			if len(got) > tc.n {
				t.Fatalf("len=%d, want <= %d", len(got), tc.n)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("truncate produced invalid UTF-8: %q", got)
			}
			if !strings.HasPrefix(tc.in, got) {
				t.Fatalf("result %q is not a prefix of the input", got)
			}
		})
	}
}
