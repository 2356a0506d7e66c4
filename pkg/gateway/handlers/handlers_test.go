package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"time"

	"github.com/aj47/awaken-ambience/pkg/gateway/auth"
	"github.com/aj47/awaken-ambience/pkg/memory"
)

// fakeStore is an in-memory memory.Store for handler tests.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]memory.Record
	configs map[string]json.RawMessage
	users   map[string]string
	failure error
}

var _ memory.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[int64]memory.Record),
		configs: make(map[string]json.RawMessage),
		users:   make(map[string]string),
	}
}

func (s *fakeStore) StoreMemory(ctx context.Context, username, content, memType, memContext string, tags []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return 0, s.failure
	}
	s.nextID++
	s.records[s.nextID] = memory.Record{
		ID:        s.nextID,
		Username:  username,
		Content:   content,
		Type:      memType,
		CreatedAt: time.Now(),
	}
	return s.nextID, nil
}

func (s *fakeStore) userRecords(username string) []memory.Record {
	out := make([]memory.Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Username == username {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *fakeStore) GetRecentMemories(ctx context.Context, username string, limit int) ([]memory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, s.failure
	}
	records := s.userRecords(username)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *fakeStore) SearchMemories(ctx context.Context, username, query string, limit int) ([]memory.Record, error) {
	return s.GetRecentMemories(ctx, username, limit)
}

func (s *fakeStore) GetAllMemories(ctx context.Context, username string) ([]memory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, s.failure
	}
	return s.userRecords(username), nil
}

func (s *fakeStore) GetMemory(ctx context.Context, id int64, username string) (memory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return memory.Record{}, s.failure
	}
	rec, ok := s.records[id]
	if !ok || rec.Username != username {
		return memory.Record{}, memory.ErrNotFound
	}
	return rec, nil
}

func (s *fakeStore) DeleteMemory(ctx context.Context, id int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	rec, ok := s.records[id]
	if !ok || rec.Username != username {
		return memory.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *fakeStore) UpdateMemory(ctx context.Context, id int64, content, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	rec, ok := s.records[id]
	if !ok || rec.Username != username {
		return memory.ErrNotFound
	}
	rec.Content = content
	s.records[id] = rec
	return nil
}

func (s *fakeStore) GetUserConfig(ctx context.Context, username string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, false, s.failure
	}
	raw, ok := s.configs[username]
	return raw, ok, nil
}

func (s *fakeStore) SetUserConfig(ctx context.Context, username string, cfg json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	s.configs[username] = cfg
	return nil
}

func (s *fakeStore) GetUserPasswordHash(ctx context.Context, username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return "", s.failure
	}
	hash, ok := s.users[username]
	if !ok {
		return "", memory.ErrNotFound
	}
	return hash, nil
}

func (s *fakeStore) UpsertUser(ctx context.Context, username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	s.users[username] = passwordHash
	return nil
}

// authedRequest builds a request carrying a principal, the way the auth
// middleware would.
func authedRequest(method, target, username string, body io.Reader) *http.Request {
	r := httptest.NewRequest(method, target, body)
	return r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{Username: username}))
}
