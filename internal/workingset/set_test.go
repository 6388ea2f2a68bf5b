package workingset_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/workingset"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mkTurn builds a turn with the exchange convention used across these
// tests: odd sequence numbers are user turns, even are agent replies.
func mkTurn(seq uint64) memory.Turn {
	role := memory.RoleUser
	if seq%2 == 0 {
		role = memory.RoleAgent
	}
	return memory.Turn{
		Role:      role,
		Text:      fmt.Sprintf("turn %d", seq),
		Timestamp: time.Date(2026, 1, 1, 0, 0, int(seq), 0, time.UTC),
		Seq:       seq,
	}
}

func newSet(t *testing.T, cfg workingset.Config) (*workingset.Set, *memory.InMemoryJournal) {
	t.Helper()
	journal := memory.NewInMemoryJournal()
	set := workingset.New("s1", journal, memory.NewCharEstimator(4), cfg, testLogger())
	return set, journal
}

func TestSet_OrderingInvariant(t *testing.T) {
	t.Parallel()

	set, _ := newSet(t, workingset.Config{MaxTurns: 100, MaxTokens: 1 << 20})
	ctx := context.Background()

	for seq := uint64(1); seq <= 9; seq++ {
		if _, err := set.Append(ctx, mkTurn(seq)); err != nil {
			t.Fatalf("Append(%d) error: %v", seq, err)
		}
	}

	snap := set.Snapshot()
	if len(snap) != 9 {
		t.Fatalf("Snapshot() returned %d turns, want 9", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].Seq <= snap[i-1].Seq {
			t.Errorf("Snapshot() not ordered: seq %d at index %d after %d", snap[i].Seq, i, snap[i-1].Seq)
		}
	}
}

func TestSet_OutOfOrderTurn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		seqs []uint64
		bad  uint64
	}{
		{name: "duplicate_seq", seqs: []uint64{1, 2}, bad: 2},
		{name: "lower_seq", seqs: []uint64{5, 6}, bad: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			set, _ := newSet(t, workingset.Config{MaxTurns: 100, MaxTokens: 1 << 20})
			ctx := context.Background()
			for _, seq := range tt.seqs {
				if _, err := set.Append(ctx, mkTurn(seq)); err != nil {
					t.Fatalf("Append(%d) error: %v", seq, err)
				}
			}

			_, err := set.Append(ctx, mkTurn(tt.bad))
			if !errors.Is(err, memory.ErrOutOfOrderTurn) {
				t.Fatalf("Append(%d) error = %v, want ErrOutOfOrderTurn", tt.bad, err)
			}
			if got := set.Len(); got != len(tt.seqs) {
				t.Errorf("Len() = %d after rejected append, want %d", got, len(tt.seqs))
			}
		})
	}
}

func TestSet_OverflowExcision(t *testing.T) {
	t.Parallel()

	// Ceiling of 10 turns; the 11th append must excise down to 75% and
	// hand back exactly one contiguous prefix block.
	set, _ := newSet(t, workingset.Config{MaxTurns: 10, MaxTokens: 1 << 20})
	ctx := context.Background()

	var excised []memory.Turn
	for seq := uint64(1); seq <= 12; seq++ {
		block, err := set.Append(ctx, mkTurn(seq))
		if err != nil {
			t.Fatalf("Append(%d) error: %v", seq, err)
		}
		if len(block) > 0 {
			if excised != nil {
				t.Fatalf("second excision at seq %d, want exactly one for 12 appends", seq)
			}
			excised = block
			if seq != 11 {
				t.Errorf("excision fired at append %d, want 11", seq)
			}
		}
	}

	if excised == nil {
		t.Fatal("no excision fired for 12 appends over a 10-turn ceiling")
	}
	if set.Len() > 8 {
		t.Errorf("Len() = %d after excision, want <= 8 (75%% of ceiling)", set.Len())
	}
	if excised[0].Seq != 1 || excised[len(excised)-1].Seq != 4 {
		t.Errorf("excised range %d-%d, want 1-4", excised[0].Seq, excised[len(excised)-1].Seq)
	}

	// No-loss: every turn is either in the snapshot or the excised block.
	seen := make(map[uint64]bool)
	for _, turn := range excised {
		seen[turn.Seq] = true
	}
	for _, turn := range set.Snapshot() {
		seen[turn.Seq] = true
	}
	for seq := uint64(1); seq <= 12; seq++ {
		if !seen[seq] {
			t.Errorf("turn %d lost: not in snapshot nor excised block", seq)
		}
	}
}

func TestSet_ExcisionNeverSplitsPair(t *testing.T) {
	t.Parallel()

	set, _ := newSet(t, workingset.Config{MaxTurns: 9, MaxTokens: 1 << 20})
	ctx := context.Background()

	for seq := uint64(1); seq <= 20; seq++ {
		block, err := set.Append(ctx, mkTurn(seq))
		if err != nil {
			t.Fatalf("Append(%d) error: %v", seq, err)
		}
		if len(block) > 0 {
			last := block[len(block)-1]
			if last.Role == memory.RoleUser {
				t.Errorf("excised block ends on user turn %d: pair split", last.Seq)
			}
		}
	}
}

func TestSet_ExcisionKeepsNoteWithPendingExchange(t *testing.T) {
	t.Parallel()

	// Exchanges of the form user, system-note, agent: the note between a
	// user turn and its reply must never be separated from the exchange
	// by an excision cut.
	set, _ := newSet(t, workingset.Config{MaxTurns: 7, MaxTokens: 1 << 20})
	ctx := context.Background()

	for seq := uint64(1); seq <= 30; seq++ {
		turn := mkTurn(seq)
		switch seq % 3 {
		case 1:
			turn.Role = memory.RoleUser
		case 2:
			turn.Role = memory.RoleSystemNote
		case 0:
			turn.Role = memory.RoleAgent
		}
		block, err := set.Append(ctx, turn)
		if err != nil {
			t.Fatalf("Append(%d) error: %v", seq, err)
		}
		if len(block) == 0 {
			continue
		}
		last := len(block) - 1
		for last >= 0 && block[last].Role == memory.RoleSystemNote {
			last--
		}
		if last >= 0 && block[last].Role == memory.RoleUser {
			t.Errorf("excised block ends with unreplied user turn %d", block[last].Seq)
		}
		if block[len(block)-1].Role == memory.RoleSystemNote {
			t.Errorf("excised block ends on note %d detached from its exchange", block[len(block)-1].Seq)
		}
	}
}

func TestSet_DanglingUserCarriedForward(t *testing.T) {
	t.Parallel()

	// All turns are user turns (replies never arrive): nothing may be
	// excised, even over the ceiling.
	set, _ := newSet(t, workingset.Config{MaxTurns: 4, MaxTokens: 1 << 20})
	ctx := context.Background()

	for seq := uint64(1); seq <= 6; seq++ {
		turn := mkTurn(seq)
		turn.Role = memory.RoleUser
		block, err := set.Append(ctx, turn)
		if err != nil {
			t.Fatalf("Append(%d) error: %v", seq, err)
		}
		if len(block) > 0 {
			t.Fatalf("excised %d dangling user turns at seq %d", len(block), seq)
		}
	}
	if set.Len() != 6 {
		t.Errorf("Len() = %d, want all 6 dangling turns carried", set.Len())
	}
}

func TestSet_Clear(t *testing.T) {
	t.Parallel()

	set, _ := newSet(t, workingset.Config{MaxTurns: 100, MaxTokens: 1 << 20})
	ctx := context.Background()
	for seq := uint64(1); seq <= 5; seq++ {
		if _, err := set.Append(ctx, mkTurn(seq)); err != nil {
			t.Fatalf("Append(%d) error: %v", seq, err)
		}
	}

	cleared := set.Clear()
	if len(cleared) != 5 {
		t.Fatalf("Clear() returned %d turns, want 5", len(cleared))
	}
	if set.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", set.Len())
	}
}

// failJournal rejects every append.
type failJournal struct {
	memory.Journal
}

func (failJournal) AppendTurn(context.Context, string, memory.Turn) error {
	return errors.New("disk full")
}

func TestSet_JournalFailureNotCommitted(t *testing.T) {
	t.Parallel()

	set := workingset.New("s1", failJournal{}, memory.NewCharEstimator(4),
		workingset.Config{MaxTurns: 100, MaxTokens: 1 << 20}, testLogger())

	_, err := set.Append(context.Background(), mkTurn(1))
	if !errors.Is(err, memory.ErrJournalWrite) {
		t.Fatalf("Append error = %v, want ErrJournalWrite", err)
	}
	if set.Len() != 0 {
		t.Errorf("Len() = %d after failed journal write, want 0", set.Len())
	}

	// A retry of the same sequence number must succeed once the journal
	// recovers; the buffer was rolled back.
	healthy := workingset.New("s2", memory.NewInMemoryJournal(), memory.NewCharEstimator(4),
		workingset.Config{MaxTurns: 100, MaxTokens: 1 << 20}, testLogger())
	if _, err := healthy.Append(context.Background(), mkTurn(1)); err != nil {
		t.Fatalf("retry append error: %v", err)
	}
}

func TestSet_JournalReplayRoundTrip(t *testing.T) {
	t.Parallel()

	set, journal := newSet(t, workingset.Config{MaxTurns: 100, MaxTokens: 1 << 20})
	ctx := context.Background()
	for seq := uint64(1); seq <= 4; seq++ {
		if _, err := set.Append(ctx, mkTurn(seq)); err != nil {
			t.Fatalf("Append(%d) error: %v", seq, err)
		}
	}

	replayed, err := journal.Replay(ctx, "s1")
	if err != nil {
		t.Fatalf("Replay error: %v", err)
	}
	if len(replayed) != 4 {
		t.Fatalf("Replay returned %d turns, want 4", len(replayed))
	}

	restored := workingset.Restore("s1", replayed, journal, memory.NewCharEstimator(4),
		workingset.Config{MaxTurns: 100, MaxTokens: 1 << 20}, testLogger())
	if restored.Len() != 4 {
		t.Errorf("restored Len() = %d, want 4", restored.Len())
	}
	if _, err := restored.Append(ctx, mkTurn(5)); err != nil {
		t.Errorf("append after restore error: %v", err)
	}
}

func TestSet_TokenCeiling(t *testing.T) {
	t.Parallel()

	// Tiny token ceiling forces excision by weight rather than count.
	set, _ := newSet(t, workingset.Config{MaxTurns: 1000, MaxTokens: 40})
	ctx := context.Background()

	sawExcision := false
	for seq := uint64(1); seq <= 20; seq++ {
		block, err := set.Append(ctx, mkTurn(seq))
		if err != nil {
			t.Fatalf("Append(%d) error: %v", seq, err)
		}
		if len(block) > 0 {
			sawExcision = true
		}
	}
	if !sawExcision {
		t.Fatal("no excision fired despite token ceiling pressure")
	}
	if got := set.Tokens(); got > 40 {
		t.Errorf("Tokens() = %d after excisions, want <= 40", got)
	}
}
