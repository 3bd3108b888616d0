/*
Package s3 persists the audit trail of memory mutations to S3-compatible
object storage. Every committed ADD, UPDATE and DELETE lands as one JSON
object; recording is best-effort by contract, so a failed write is the
caller's to log, never to roll back.
*/
package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/theapemachine/mem-go/pkg/memory"
)

/*
AuditSink implements memory.AuditSink over a Conn. Object keys are ordered by
timestamp within a scope prefix, so the trail for one scope reads back in
commit order.
*/
type AuditSink struct {
	conn *Conn
}

// NewAuditSink creates an S3-backed audit sink on the given connection.
func NewAuditSink(conn *Conn) *AuditSink {
	return &AuditSink{conn: conn}
}

// Record writes one mutation event as a JSON object.
func (sink *AuditSink) Record(ctx context.Context, event memory.Event) error {
	data, err := json.Marshal(event)

	if err != nil {
		log.Error("failed to marshal audit event", "error", err)
		return err
	}

	key := fmt.Sprintf(
		"audit/%s/%s-%s.json",
		scopePrefix(event.Scope),
		event.At.UTC().Format("20060102T150405.000000000Z"),
		uuid.NewString(),
	)

	if err := sink.conn.Put(ctx, key, data); err != nil {
		log.Error("failed to store audit event", "error", err, "key", key)
		return err
	}

	return nil
}

// Replay reads back every event recorded for a scope, in commit order.
func (sink *AuditSink) Replay(ctx context.Context, scope memory.Scope) ([]memory.Event, error) {
	keys, err := sink.conn.List(ctx, "audit/"+scopePrefix(scope)+"/")

	if err != nil {
		return nil, err
	}

	events := make([]memory.Event, 0, len(keys))

	for _, key := range keys {
		data, err := sink.conn.Get(ctx, key)

		if err != nil {
			return nil, err
		}

		var event memory.Event

		if err := json.Unmarshal(data, &event); err != nil {
			log.Warn("skipping unreadable audit object", "key", key, "error", err)
			continue
		}

		events = append(events, event)
	}

	return events, nil
}

// scopePrefix flattens a scope into a stable path segment. Empty fields keep
// their slot so prefixes never collide across scopes.
func scopePrefix(scope memory.Scope) string {
	sanitize := func(s string) string {
		if s == "" {
			return "_"
		}
		return strings.ReplaceAll(s, "/", "_")
	}

	return fmt.Sprintf(
		"%s/%s/%s",
		sanitize(scope.UserID), sanitize(scope.AgentID), sanitize(scope.RunID),
	)
}

var _ memory.AuditSink = (*AuditSink)(nil)
