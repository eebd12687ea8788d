package gpws

import (
	"fmt"
	"testing"
	"time"

	"github.com/wdc-gp/gustlink"
)

func bufMsg(i int, cat gustlink.Category) gustlink.Message {
	return gustlink.Message{
		Timestamp: time.Unix(int64(i), 0),
		ServerID:  1,
		Region:    gustlink.RegionUS,
		Text:      fmt.Sprintf("line %d", i),
		Category:  cat,
	}
}

// TestRingBounded tests that the buffer never exceeds its capacity and
// keeps exactly the newest entries, oldest first
func TestRingBounded(t *testing.T) {
	t.Parallel()

	const capacity = 10
	r := newRing(capacity)

	// Insert N+k messages.
	for i := 0; i < capacity+7; i++ {
		r.push(bufMsg(i, gustlink.CategorySystem))
	}

	if r.size() != capacity {
		t.Fatalf("size = %d, want %d", r.size(), capacity)
	}

	got := r.recent(capacity*2, "")
	if len(got) != capacity {
		t.Fatalf("recent returned %d messages, want %d", len(got), capacity)
	}

	// Exactly the last N remain, in insertion order.
	for i, m := range got {
		want := fmt.Sprintf("line %d", 7+i)
		if m.Text != want {
			t.Errorf("message[%d] = %q, want %q", i, m.Text, want)
		}
	}
}

// TestRingRecentLimit tests the limit applies to the newest matches
func TestRingRecentLimit(t *testing.T) {
	t.Parallel()

	r := newRing(100)
	for i := 0; i < 20; i++ {
		r.push(bufMsg(i, gustlink.CategorySystem))
	}

	got := r.recent(5, "")
	if len(got) != 5 {
		t.Fatalf("recent returned %d messages, want 5", len(got))
	}
	if got[0].Text != "line 15" || got[4].Text != "line 19" {
		t.Errorf("window = [%q .. %q], want [line 15 .. line 19]", got[0].Text, got[4].Text)
	}
}

// TestRingCategoryFilter tests filtering happens before the limit window
func TestRingCategoryFilter(t *testing.T) {
	t.Parallel()

	r := newRing(100)
	for i := 0; i < 10; i++ {
		cat := gustlink.CategorySystem
		if i%2 == 0 {
			cat = gustlink.CategoryChat
		}
		r.push(bufMsg(i, cat))
	}

	got := r.recent(3, gustlink.CategoryChat)
	if len(got) != 3 {
		t.Fatalf("recent returned %d messages, want 3", len(got))
	}
	for _, m := range got {
		if m.Category != gustlink.CategoryChat {
			t.Errorf("message %q category = %q, want chat", m.Text, m.Category)
		}
	}
	// Newest three chat lines are 4, 6, 8.
	if got[0].Text != "line 4" || got[2].Text != "line 8" {
		t.Errorf("window = [%q .. %q], want [line 4 .. line 8]", got[0].Text, got[2].Text)
	}
}

// TestRingEdgeCases tests empty buffer and degenerate limits
func TestRingEdgeCases(t *testing.T) {
	t.Parallel()

	r := newRing(5)
	if got := r.recent(10, ""); got != nil {
		t.Errorf("empty ring recent = %v, want nil", got)
	}

	r.push(bufMsg(1, gustlink.CategorySystem))
	if got := r.recent(0, ""); got != nil {
		t.Errorf("limit 0 recent = %v, want nil", got)
	}
	if got := r.recent(-1, ""); got != nil {
		t.Errorf("negative limit recent = %v, want nil", got)
	}
	if got := r.recent(10, gustlink.CategoryKill); len(got) != 0 {
		t.Errorf("no-match recent returned %d messages, want 0", len(got))
	}
}
