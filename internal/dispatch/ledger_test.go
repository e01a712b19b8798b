package dispatch

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLedger_ClaimMessageOnce(t *testing.T) {
	l := NewLedger()

	if !l.ClaimMessage("m1") {
		t.Fatal("first claim should win")
	}
	if l.ClaimMessage("m1") {
		t.Fatal("second claim of same id should lose")
	}
	if !l.SeenMessage("m1") {
		t.Fatal("claimed id should be seen")
	}
	if l.SeenMessage("m2") {
		t.Fatal("unclaimed id should not be seen")
	}
}

// TestLedger_ConcurrentClaims races many goroutines at the same id and
// checks exactly one wins.
func TestLedger_ConcurrentClaims(t *testing.T) {
	l := NewLedger()

	const goroutines = 50
	var wg sync.WaitGroup
	wins := make(chan string, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.ClaimMessage("contested") {
				wins <- "win"
			}
		}()
	}
	wg.Wait()
	close(wins)

	if got := len(wins); got != 1 {
		t.Fatalf("expected exactly 1 winning claim, got %d", got)
	}
}

func TestLedger_CursorsIndependentFromMessages(t *testing.T) {
	l := NewLedger()

	if !l.ClaimCursor("42") {
		t.Fatal("cursor claim should win")
	}
	if !l.ClaimMessage("42") {
		t.Fatal("same id in a different set should still be claimable")
	}
	if l.ClaimCursor("42") {
		t.Fatal("repeat cursor claim should lose")
	}
}

func TestLedger_SentReplies(t *testing.T) {
	l := NewLedger()

	if l.SeenSent("r1") {
		t.Fatal("unrecorded reply should not be seen")
	}
	l.RecordSent("r1")
	if !l.SeenSent("r1") {
		t.Fatal("recorded reply should be seen")
	}
	// Recording twice is harmless.
	l.RecordSent("r1")
	if !l.SeenSent("r1") {
		t.Fatal("reply should stay recorded")
	}
}

// TestLedger_Compaction overfills each set, backdates the compaction
// clock, and checks the truncated sizes.
func TestLedger_Compaction(t *testing.T) {
	l := NewLedger()

	for i := 0; i < messageCap+20; i++ {
		l.ClaimMessage(fmt.Sprintf("m%d", i))
	}
	for i := 0; i < cursorCap+20; i++ {
		l.ClaimCursor(fmt.Sprintf("c%d", i))
	}
	for i := 0; i < sentCap+20; i++ {
		l.RecordSent(fmt.Sprintf("r%d", i))
	}

	// Within the interval nothing is touched.
	l.MaybeCompact()
	if m, _, _ := l.Counts(); m != messageCap+20 {
		t.Fatalf("compaction ran too early, messages = %d", m)
	}

	l.compactMu.Lock()
	l.lastCompact = time.Now().Add(-2 * compactInterval)
	l.compactMu.Unlock()

	l.MaybeCompact()
	m, c, s := l.Counts()
	if m != messageRetained {
		t.Errorf("messages after compaction = %d, want %d", m, messageRetained)
	}
	if c != cursorRetained {
		t.Errorf("cursors after compaction = %d, want %d", c, cursorRetained)
	}
	if s != sentRetained {
		t.Errorf("sent after compaction = %d, want %d", s, sentRetained)
	}
}

func TestLedger_CompactionLeavesSmallSetsAlone(t *testing.T) {
	l := NewLedger()
	l.ClaimMessage("m1")
	l.RecordSent("r1")

	l.compactMu.Lock()
	l.lastCompact = time.Now().Add(-2 * compactInterval)
	l.compactMu.Unlock()

	l.MaybeCompact()
	m, _, s := l.Counts()
	if m != 1 || s != 1 {
		t.Fatalf("small sets should survive compaction intact, got messages=%d sent=%d", m, s)
	}
	if !l.SeenMessage("m1") || !l.SeenSent("r1") {
		t.Fatal("entries below the cap must not be dropped")
	}
}
