// Package memory implements the long-term memory store: hybrid
// lexical+vector recall over MemoryEntry rows, fed by an asynchronous
// capture pipeline that runs off the orchestration pipeline's hot path.
package memory

import "time"

// Kind is the category of a memory entry, which determines its Scope.
type Kind string

const (
	KindEpisodic   Kind = "episodic"
	KindSemantic   Kind = "semantic"
	KindProcedural Kind = "procedural"
	KindPreference Kind = "preference"
	KindDecision   Kind = "decision"
	KindEmotional  Kind = "emotional"
	KindReflective Kind = "reflective"
)

// Scope is the visibility level a memory entry is filed under.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeUser   Scope = "user"
	ScopeChat   Scope = "chat"
)

// ScopeForKind implements the fixed kind->scope assignment: episodic and
// emotional entries are chat-scoped, reflective entries are global, and
// semantic, procedural, preference, decision and any other kind are
// user-scoped.
func ScopeForKind(k Kind) Scope {
	switch k {
	case KindEpisodic, KindEmotional:
		return ScopeChat
	case KindSemantic, KindProcedural, KindPreference, KindDecision:
		return ScopeUser
	case KindReflective:
		return ScopeGlobal
	default:
		return ScopeUser
	}
}

// Entry is one long-term memory record.
type Entry struct {
	ID              string
	Scope           Scope
	ScopeKey        string // chat_id, sender_id, or "" for global
	Kind            Kind
	Text            string
	CreatedAt       time.Time
	Salience        float64
	Embedding       []float32 // nil if the vector backend is disabled or not yet computed
	SourceChannel   string
	SourceChat      string
	SourceMessageID string
}

// Candidate is a proposed memory entry before filtering, produced by an
// Extractor.
type Candidate struct {
	Kind       Kind
	Text       string
	Confidence float64
	Salience   float64
}

// Scored pairs a retrieved entry with its final ranking score.
type Scored struct {
	Entry Entry
	Score float64
}

// RecallWeights are the blend weights for the hybrid ranking function;
// they should sum to 1. Defaults per the long-term memory design are
// (0.35, 0.35, 0.15, 0.15).
type RecallWeights struct {
	Lexical  float64
	Vector   float64
	Salience float64
	Recency  float64
}

// DefaultRecallWeights are the conservative defaults chosen when the
// source material left the blend unspecified.
var DefaultRecallWeights = RecallWeights{Lexical: 0.35, Vector: 0.35, Salience: 0.15, Recency: 0.15}

// RecencyHalfLife is the exponential-decay half-life used by the recency
// term, default 30 days.
const RecencyHalfLife = 30 * 24 * time.Hour
