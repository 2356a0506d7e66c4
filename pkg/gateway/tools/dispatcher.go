package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/aj47/awaken-ambience/pkg/gateway/upstream"
	"github.com/aj47/awaken-ambience/pkg/memory"
)

const defaultListLimit = 5

// ToolError wraps a failure inside a tool handler. The dispatcher converts it
// into an error payload for the model instead of failing the session.
type ToolError struct {
	Name string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Name, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Dispatcher executes model function calls against the memory store.
type Dispatcher struct {
	store  memory.Store
	logger *slog.Logger
}

func NewDispatcher(store memory.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, logger: logger}
}

// Dispatch runs one function call scoped to username. It returns the function
// response to send upstream and a spoken-style summary the session narrates
// back to the model. Handler failures never propagate; they become an error
// payload so the conversation continues.
func (d *Dispatcher) Dispatch(ctx context.Context, call upstream.FunctionCall, username string) (upstream.FunctionResponse, string) {
	content, summary, err := d.run(ctx, call, username)
	if err != nil {
		toolErr := &ToolError{Name: call.Name, Err: err}
		d.logger.Warn("tool call failed", "tool", call.Name, "user", username, "error", err)
		content = map[string]any{"error": toolErr.Error()}
		summary = fmt.Sprintf("Sorry, the %s function failed.", call.Name)
	}
	return upstream.FunctionResponse{
		ID:   call.ID,
		Name: call.Name,
		Response: map[string]any{
			"name":    call.Name,
			"content": content,
		},
	}, summary
}

func (d *Dispatcher) run(ctx context.Context, call upstream.FunctionCall, username string) (any, string, error) {
	args := call.Args
	switch call.Name {
	case NameStoreMemory:
		memContent := argString(args, "content")
		memType := argString(args, "type")
		if memType == "" {
			memType = memory.TypeConversation
		}
		id, err := d.store.StoreMemory(ctx, username, memContent,
			memType, argString(args, "context"), argStrings(args, "tags"))
		if err != nil {
			return nil, "", err
		}
		return map[string]any{"success": true, "memory_id": id},
			fmt.Sprintf("Stored memory: %s...", truncate(memContent, 50)), nil

	case NameGetRecentMemories:
		records, err := d.store.GetRecentMemories(ctx, username, argInt(args, "limit", defaultListLimit))
		if err != nil {
			return nil, "", err
		}
		return recordsPayload(records), listSummary("Here are your recent memories:", records), nil

	case NameSearchMemories:
		query := argString(args, "query")
		records, err := d.store.SearchMemories(ctx, username, query, argInt(args, "limit", defaultListLimit))
		if err != nil {
			return nil, "", err
		}
		header := fmt.Sprintf("Found %d memories matching '%s':", len(records), query)
		return recordsPayload(records), listSummary(header, records), nil

	case NameDeleteMemory:
		id := int64(argInt(args, "memory_id", 0))
		if err := d.store.DeleteMemory(ctx, id, username); err != nil {
			return nil, "", err
		}
		return map[string]any{"success": true},
			fmt.Sprintf("Successfully deleted memory ID %d", id), nil

	case NameUpdateMemory:
		id := int64(argInt(args, "memory_id", 0))
		if err := d.store.UpdateMemory(ctx, id, argString(args, "new_content"), username); err != nil {
			return nil, "", err
		}
		return map[string]any{"success": true},
			fmt.Sprintf("Successfully updated memory ID %d", id), nil
	}
	return nil, "", fmt.Errorf("unknown function %s", call.Name)
}

func recordsPayload(records []memory.Record) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		out = append(out, map[string]any{
			"id":        r.ID,
			"content":   r.Content,
			"type":      r.Type,
			"timestamp": r.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return out
}

func listSummary(header string, records []memory.Record) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteByte('\n')
	for i, r := range records {
		fmt.Fprintf(&b, "%d. %s...\n", i+1, truncate(r.Content, 100))
	}
	return b.String()
}

// truncate cuts s to at most n bytes without splitting a rune, so the
// narration turn stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// Function call args arrive as decoded JSON, so numbers are float64.

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func argInt(args map[string]any, key string, fallback int) int {
	f, ok := args[key].(float64)
	if !ok {
		return fallback
	}
	return int(f)
}

func argStrings(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
