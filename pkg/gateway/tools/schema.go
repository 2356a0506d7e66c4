// Package tools declares the memory functions advertised to the model and
// dispatches its function calls against the memory store.
package tools

import (
	"github.com/aj47/awaken-ambience/pkg/gateway/upstream"
)

// Tool names as advertised in the handshake. The model calls these by name.
const (
	NameStoreMemory       = "store_memory"
	NameGetRecentMemories = "get_recent_memories"
	NameSearchMemories    = "search_memories"
	NameDeleteMemory      = "delete_memory"
	NameUpdateMemory      = "update_memory"
)

// Declarations returns the function declarations for the five memory tools.
// The client_id property is declared for the model's benefit but ignored on
// dispatch; memory access is always scoped to the authenticated user.
func Declarations() []upstream.FunctionDeclaration {
	str := &upstream.Schema{Type: "string"}
	integer := &upstream.Schema{Type: "integer"}
	return []upstream.FunctionDeclaration{
		{
			Name:        NameStoreMemory,
			Description: "Stores a memory in the database.",
			Parameters: &upstream.Schema{
				Type: "object",
				Properties: map[string]*upstream.Schema{
					"client_id": str,
					"content":   str,
					"context":   str,
					"tags":      {Type: "array", Items: str},
					"type":      str,
				},
			},
		},
		{
			Name:        NameGetRecentMemories,
			Description: "Retrieves recent memories from the database.",
			Parameters: &upstream.Schema{
				Type: "object",
				Properties: map[string]*upstream.Schema{
					"client_id": str,
					"limit":     integer,
				},
			},
		},
		{
			Name:        NameSearchMemories,
			Description: "Searches memories based on query.",
			Parameters: &upstream.Schema{
				Type: "object",
				Properties: map[string]*upstream.Schema{
					"client_id": str,
					"query":     str,
					"limit":     integer,
				},
			},
		},
		{
			Name:        NameDeleteMemory,
			Description: "Deletes a specific memory by its ID.",
			Parameters: &upstream.Schema{
				Type: "object",
				Properties: map[string]*upstream.Schema{
					"memory_id": integer,
				},
			},
		},
		{
			Name:        NameUpdateMemory,
			Description: "Updates the content of a specific memory.",
			Parameters: &upstream.Schema{
				Type: "object",
				Properties: map[string]*upstream.Schema{
					"memory_id":   integer,
					"new_content": str,
				},
			},
		},
	}
}
