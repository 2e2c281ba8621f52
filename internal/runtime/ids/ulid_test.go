package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestCreateULIDIsMonotonic(t *testing.T) {
	before := time.Now().Add(-time.Second)
	prev := ""
	for range 64 {
		id := CreateULID()
		parsed, err := ulid.ParseStrict(id)
		if err != nil {
			t.Fatalf("CreateULID returned %q: %v", id, err)
		}
		if ulid.Time(parsed.Time()).Before(before) {
			t.Fatalf("timestamp of %s predates the test", id)
		}
		if prev != "" && id <= prev {
			t.Fatalf("ids out of order: %s after %s", id, prev)
		}
		prev = id
	}
}

// Outbound message ids are minted from every worker goroutine that publishes.
func TestCreateULIDUniqueAcrossGoroutines(t *testing.T) {
	const workers, each = 8, 32

	ids := make(chan string, workers*each)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				ids <- CreateULID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, workers*each)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != workers*each {
		t.Fatalf("got %d ids, want %d", len(seen), workers*each)
	}
}

func TestCorrelationID(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		keep     bool
	}{
		{name: "inbound id kept", existing: "corr-1", keep: true},
		{name: "empty", existing: ""},
		{name: "blank", existing: " \t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CorrelationID(tt.existing)
			if tt.keep {
				if got != tt.existing {
					t.Fatalf("got %q, want %q", got, tt.existing)
				}
				return
			}
			if _, err := ulid.ParseStrict(got); err != nil {
				t.Fatalf("expected a fresh ULID, got %q: %v", got, err)
			}
		})
	}
}
