package tictactoe

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RoundResult is one completed round; a nil winner is a drawn round.
type RoundResult struct {
	Round  int        `json:"round"`
	Winner *uuid.UUID `json:"winner"`
}

// GameSummary is the append-only record the engine emits when a game
// terminates. Persistence is the sink's concern.
type GameSummary struct {
	GameID    uuid.UUID
	XPlayer   uuid.UUID
	OPlayer   uuid.UUID
	Rounds    []RoundResult
	XScore    int
	OScore    int
	Winner    *uuid.UUID
	Reason    GameOverReason
	StartedAt time.Time
	EndedAt   time.Time
}

// Sink receives completed game records.
type Sink interface {
	Record(ctx context.Context, sum GameSummary) error
}

// MemorySink collects summaries in memory; the test double for Sink.
type MemorySink struct {
	mu      sync.Mutex
	records []GameSummary
}

func (s *MemorySink) Record(_ context.Context, sum GameSummary) error {
	s.mu.Lock()
	s.records = append(s.records, sum)
	s.mu.Unlock()
	return nil
}

// Records returns a snapshot of everything recorded so far.
func (s *MemorySink) Records() []GameSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GameSummary, len(s.records))
	copy(out, s.records)
	return out
}
