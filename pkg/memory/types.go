// Package memory implements a reconciling long-term memory layer: free-text
// interactions are distilled into discrete facts, reconciled against the
// existing store through explicit ADD/UPDATE/DELETE/NONE decisions, and
// retrieved later through concurrent vector and graph lookups.
package memory

import (
	"fmt"
	"time"
)

// Scope identifies which memories a query or mutation may touch. At least one
// field must be set; a zero scope is rejected before any backend call.
type Scope struct {
	UserID  string `json:"user_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	RunID   string `json:"run_id,omitempty"`
}

// IsZero reports whether no scope field is set.
func (scope Scope) IsZero() bool {
	return scope.UserID == "" && scope.AgentID == "" && scope.RunID == ""
}

// Key returns a stable string usable as a lock shard key. The unit separator
// keeps ("a","bc") and ("ab","c") from colliding.
func (scope Scope) Key() string {
	return scope.UserID + "\x1f" + scope.AgentID + "\x1f" + scope.RunID
}

// Item is a single stored memory. Score is populated at search time only and
// is never persisted. Content changes only through an UPDATE action; the id
// and scope never change after creation.
type Item struct {
	ID        string         `json:"id"`
	Memory    string         `json:"memory"`
	Scope     Scope          `json:"scope"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Score     float64        `json:"score,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Fact is a short normalized statement derived from input text. Facts are
// ephemeral: they exist only during a reconciliation pass and carry no id
// until an ADD decision assigns one.
type Fact struct {
	Text string `json:"text"`
}

// ActionKind enumerates the four possible outcomes of reconciling one fact.
type ActionKind string

const (
	ActionAdd    ActionKind = "ADD"
	ActionUpdate ActionKind = "UPDATE"
	ActionDelete ActionKind = "DELETE"
	ActionNone   ActionKind = "NONE"
)

// Valid reports whether the kind is one of the four reconciliation outcomes.
func (kind ActionKind) Valid() bool {
	switch kind {
	case ActionAdd, ActionUpdate, ActionDelete, ActionNone:
		return true
	}
	return false
}

// Action is one reconciliation decision. Text is set for ADD/UPDATE, TargetID
// for UPDATE/DELETE/NONE. Exactly one Action is produced per input fact.
type Action struct {
	Kind     ActionKind `json:"event"`
	Text     string     `json:"text,omitempty"`
	TargetID string     `json:"id,omitempty"`
}

func (action Action) String() string {
	return fmt.Sprintf("%s(id=%s)", action.Kind, action.TargetID)
}

// FactCandidates pairs a fact with its candidate set: the top-K existing
// memories semantically nearest the fact, ordered by descending score with
// ascending id as the tie-break.
type FactCandidates struct {
	Fact       Fact   `json:"fact"`
	Candidates []Item `json:"candidates"`
}

// EntityNode is a graph node representing a resolved entity. Score carries
// the resolution similarity at search time only.
type EntityNode struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Scope     Scope     `json:"scope"`
	Embedding []float32 `json:"-"`
	Score     float64   `json:"score,omitempty"`
}

// RelationTriple is a directed labeled edge between two entities, expressed
// by entity name.
type RelationTriple struct {
	Source       string `json:"source"`
	Relationship string `json:"relationship"`
	Target       string `json:"target"`
}

// Event describes one committed mutation, emitted to the audit sink.
type Event struct {
	Kind     ActionKind `json:"event"`
	MemoryID string     `json:"memory_id"`
	Before   string     `json:"before,omitempty"`
	After    string     `json:"after,omitempty"`
	Scope    Scope      `json:"scope"`
	At       time.Time  `json:"at"`
}

// RetrievalResult is the merged outcome of one retrieval call. Results stay
// ranked by descending score; Relations is a separate ordered list, never
// interleaved. Partial is set when a supplementary backend was skipped or
// failed, with the reason recorded in Gaps.
type RetrievalResult struct {
	Results   []Item           `json:"results"`
	Relations []RelationTriple `json:"relations"`
	Partial   bool             `json:"partial,omitempty"`
	Gaps      []string         `json:"gaps,omitempty"`
}

// ReconcileReport is the outcome of one reconciliation pass. Actions holds
// exactly one entry per input fact. Diagnostics records per-fact degradations
// (invalid decisions rewritten to NONE, apply failures); Partial is set when
// any committed subset diverged from the decided set.
type ReconcileReport struct {
	Actions     []Action `json:"actions"`
	Diagnostics []string `json:"diagnostics,omitempty"`
	Partial     bool     `json:"partial,omitempty"`
}
