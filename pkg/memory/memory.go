// Package memory provides per-user persistent storage for conversational
// memories, user configuration, and user credentials. The relay core treats
// records as opaque except for the content echoed back to the model.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist or is owned by
	// a different user.
	ErrNotFound = errors.New("memory: record not found")
)

// TypeConversation tags memories the model chose to store; TypeResponse tags
// assistant text captured automatically by the relay.
const (
	TypeConversation = "conversation"
	TypeResponse     = "response"
)

// Record is one stored memory.
type Record struct {
	ID        int64     `json:"id"`
	Username  string    `json:"-"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"timestamp"`
}

// Store is the persistence interface consumed by the relay core, the tool
// dispatcher, and the CRUD handlers. All operations are scoped to a username;
// cross-user access yields ErrNotFound.
type Store interface {
	// StoreMemory persists a memory and returns its id. Context and tags
	// describe the memory but are folded into logging only; the stored row
	// carries content and type.
	StoreMemory(ctx context.Context, username, content, memType, memContext string, tags []string) (int64, error)

	GetRecentMemories(ctx context.Context, username string, limit int) ([]Record, error)
	SearchMemories(ctx context.Context, username, query string, limit int) ([]Record, error)
	GetAllMemories(ctx context.Context, username string) ([]Record, error)
	GetMemory(ctx context.Context, id int64, username string) (Record, error)
	DeleteMemory(ctx context.Context, id int64, username string) error
	UpdateMemory(ctx context.Context, id int64, content, username string) error

	// GetUserConfig returns the raw stored configuration document, or
	// ok=false when the user has never saved one.
	GetUserConfig(ctx context.Context, username string) (cfg json.RawMessage, ok bool, err error)
	SetUserConfig(ctx context.Context, username string, cfg json.RawMessage) error

	// GetUserPasswordHash returns the bcrypt hash for a username, or
	// ErrNotFound for unknown users.
	GetUserPasswordHash(ctx context.Context, username string) (string, error)
	UpsertUser(ctx context.Context, username, passwordHash string) error
}
