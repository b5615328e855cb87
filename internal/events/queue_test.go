package events

import (
	"encoding/json"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// Helper to create a test event with a fixed id
func testEvent(id uint64, ts time.Time) Event {
	data, _ := json.Marshal(map[string]string{"test": "data"})
	return Event{
		ID:        id,
		Type:      TypeMessageCreated,
		Data:      data,
		Timestamp: ts,
	}
}

func TestScopeQueue_AppendAndSince(t *testing.T) {
	q := newScopeQueue(100)
	now := time.Now().UTC()

	for id := uint64(1); id <= 10; id++ {
		if !q.append(testEvent(id, now)) {
			t.Fatalf("append of id %d rejected", id)
		}
	}

	evs, gap := q.since(5)
	if gap {
		t.Error("unexpected gap with nothing evicted")
	}
	if len(evs) != 5 {
		t.Fatalf("expected 5 events past cursor 5, got %d", len(evs))
	}
	for i, ev := range evs {
		if want := uint64(6 + i); ev.ID != want {
			t.Errorf("event %d: expected id %d, got %d", i, want, ev.ID)
		}
	}
}

func TestScopeQueue_OutOfOrderInsertAndDuplicate(t *testing.T) {
	q := newScopeQueue(100)
	now := time.Now().UTC()

	if !q.append(testEvent(5, now)) {
		t.Fatal("first append rejected")
	}
	if q.append(testEvent(5, now)) {
		t.Error("duplicate id accepted")
	}
	// A publisher that was handed a lower id but reached the queue later
	// must still land, in id position.
	if !q.append(testEvent(3, now)) {
		t.Error("late lower-id arrival rejected")
	}
	if !q.append(testEvent(7, now)) {
		t.Fatal("advancing append rejected")
	}
	if q.append(testEvent(3, now)) {
		t.Error("duplicate of an inserted id accepted")
	}

	evs, _ := q.since(0)
	if len(evs) != 3 {
		t.Fatalf("expected 3 retained events, got %d", len(evs))
	}
	for i, want := range []uint64{3, 5, 7} {
		if evs[i].ID != want {
			t.Errorf("position %d: expected id %d, got %d", i, want, evs[i].ID)
		}
	}
}

func TestScopeQueue_LengthBoundEvictsOldest(t *testing.T) {
	q := newScopeQueue(100)
	now := time.Now().UTC()

	for id := uint64(1); id <= 150; id++ {
		q.append(testEvent(id, now))
	}

	if q.len() != 100 {
		t.Fatalf("expected 100 retained events, got %d", q.len())
	}

	// Everything is newer than cursor 0, and the head 50 are gone.
	evs, gap := q.since(0)
	if !gap {
		t.Error("expected gap flag for cursor predating eviction")
	}
	if len(evs) != 100 {
		t.Fatalf("expected 100 events, got %d", len(evs))
	}
	if evs[0].ID != 51 || evs[99].ID != 150 {
		t.Errorf("expected ids 51..150, got %d..%d", evs[0].ID, evs[99].ID)
	}

	// A cursor past the eviction horizon sees no gap.
	evs, gap = q.since(50)
	if gap {
		t.Error("cursor at eviction horizon should not raise gap")
	}
	if len(evs) != 100 {
		t.Errorf("expected 100 events, got %d", len(evs))
	}
}

func TestScopeQueue_EvictOlderThan(t *testing.T) {
	q := newScopeQueue(100)
	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()

	for id := uint64(1); id <= 5; id++ {
		q.append(testEvent(id, old))
	}
	for id := uint64(6); id <= 8; id++ {
		q.append(testEvent(id, fresh))
	}

	evicted, empty := q.evictOlderThan(fresh.Add(-time.Hour))
	if evicted != 5 {
		t.Errorf("expected 5 evicted, got %d", evicted)
	}
	if empty {
		t.Error("queue should not be empty")
	}

	evs, gap := q.since(0)
	if !gap {
		t.Error("expected gap after eviction")
	}
	if len(evs) != 3 || evs[0].ID != 6 {
		t.Errorf("expected events 6..8, got %v", evs)
	}

	evicted, empty = q.evictOlderThan(time.Now().UTC().Add(time.Hour))
	if evicted != 3 || !empty {
		t.Errorf("expected full eviction, got evicted=%d empty=%v", evicted, empty)
	}
}

// Property: since(cursor) returns exactly the retained events with id greater
// than the cursor, in ascending order.
func TestScopeQueue_SinceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxLen := rapid.IntRange(1, 100).Draw(t, "maxLen")
		numEvents := rapid.IntRange(0, 200).Draw(t, "numEvents")

		q := newScopeQueue(maxLen)
		now := time.Now().UTC()
		for id := uint64(1); id <= uint64(numEvents); id++ {
			q.append(testEvent(id, now))
		}

		cursor := rapid.Uint64Range(0, uint64(numEvents)+5).Draw(t, "cursor")
		evs, gap := q.since(cursor)

		oldestRetained := uint64(1)
		if numEvents > maxLen {
			oldestRetained = uint64(numEvents-maxLen) + 1
		}

		expectedStart := cursor + 1
		if expectedStart < oldestRetained {
			expectedStart = oldestRetained
		}
		expectedCount := 0
		if uint64(numEvents) >= expectedStart {
			expectedCount = int(uint64(numEvents) - expectedStart + 1)
		}

		if len(evs) != expectedCount {
			t.Fatalf("cursor %d: expected %d events, got %d", cursor, expectedCount, len(evs))
		}
		for i, ev := range evs {
			if want := expectedStart + uint64(i); ev.ID != want {
				t.Errorf("position %d: expected id %d, got %d", i, want, ev.ID)
			}
		}

		wantGap := numEvents > maxLen && cursor < oldestRetained-1
		if gap != wantGap {
			t.Errorf("cursor %d: expected gap=%v, got %v", cursor, wantGap, gap)
		}
	})
}
