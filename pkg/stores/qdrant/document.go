package qdrant

import (
	"time"

	"github.com/theapemachine/mem-go/pkg/memory"
)

// Reserved payload keys. Scope and metadata fields are stored flat so filter
// conditions address payload keys directly; metadata keys colliding with a
// reserved name are silently shadowed by it on read.
const (
	keyMemory    = "memory"
	keyUserID    = "user_id"
	keyAgentID   = "agent_id"
	keyRunID     = "run_id"
	keyCreatedAt = "created_at"
	keyUpdatedAt = "updated_at"
)

var reservedKeys = map[string]bool{
	keyMemory:    true,
	keyUserID:    true,
	keyAgentID:   true,
	keyRunID:     true,
	keyCreatedAt: true,
	keyUpdatedAt: true,
}

// payloadFromItem flattens an item into a Qdrant point payload.
func payloadFromItem(item memory.Item) map[string]any {
	payload := map[string]any{
		keyMemory:    item.Memory,
		keyCreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		keyUpdatedAt: item.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}

	if item.Scope.UserID != "" {
		payload[keyUserID] = item.Scope.UserID
	}
	if item.Scope.AgentID != "" {
		payload[keyAgentID] = item.Scope.AgentID
	}
	if item.Scope.RunID != "" {
		payload[keyRunID] = item.Scope.RunID
	}

	for key, value := range item.Metadata {
		if !reservedKeys[key] {
			payload[key] = value
		}
	}

	return payload
}

// itemFromPayload reverses payloadFromItem.
func itemFromPayload(id string, payload map[string]any) memory.Item {
	item := memory.Item{
		ID:       id,
		Metadata: map[string]any{},
	}

	for key, value := range payload {
		switch key {
		case keyMemory:
			item.Memory, _ = value.(string)
		case keyUserID:
			item.Scope.UserID, _ = value.(string)
		case keyAgentID:
			item.Scope.AgentID, _ = value.(string)
		case keyRunID:
			item.Scope.RunID, _ = value.(string)
		case keyCreatedAt:
			item.CreatedAt = parseTime(value)
		case keyUpdatedAt:
			item.UpdatedAt = parseTime(value)
		default:
			item.Metadata[key] = value
		}
	}

	return item
}

func parseTime(value any) time.Time {
	s, ok := value.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
