package budget

import (
	"testing"
	"time"
)

func TestCanAffordAndTrackUsage(t *testing.T) {
	tr := New(Config{
		DailyNeurons:         1000,
		CostPerMillionTokens: map[string]float64{"embed-small": 1_000_000}, // 1 neuron/token
	})

	if !tr.CanAfford("embed-small", 800) {
		t.Fatal("expected 800 tokens to be affordable against 1000 neuron budget")
	}
	tr.TrackUsage("embed-small", 800)

	used, remaining, _, _ := tr.Stats()
	if used != 800 {
		t.Fatalf("used = %v, want 800", used)
	}
	if remaining != 200 {
		t.Fatalf("remaining = %v, want 200", remaining)
	}

	if tr.CanAfford("embed-small", 800) {
		t.Fatal("second 800-token request should not be affordable with only 200 remaining")
	}
}

func TestResetZeroesAndAdvances(t *testing.T) {
	tr := New(Config{DailyNeurons: 100})
	tr.TrackUsage("m", 100_000_00) // drive usage up

	tr.Reset()
	used, remaining, _, resetsAt := tr.Stats()
	if used != 0 {
		t.Fatalf("used after reset = %v, want 0", used)
	}
	if remaining != 100 {
		t.Fatalf("remaining after reset = %v, want 100", remaining)
	}
	if !resetsAt.After(time.Now()) {
		t.Fatalf("resetsAt must be strictly in the future after reset")
	}
}

func TestAutoResetOnObservationPastDeadline(t *testing.T) {
	tr := New(Config{DailyNeurons: 100})
	tr.TrackUsage("m", 1_000_000) // some usage

	// Force resetsAt into the past to simulate crossing UTC midnight.
	tr.mu.Lock()
	tr.resetsAt = time.Now().Add(-time.Minute)
	tr.mu.Unlock()

	used, remaining, _, resetsAt := tr.Stats()
	if used != 0 {
		t.Fatalf("used after auto-reset = %v, want 0", used)
	}
	if remaining != 100 {
		t.Fatalf("remaining after auto-reset = %v, want 100", remaining)
	}
	if !resetsAt.After(time.Now()) {
		t.Fatalf("resetsAt after auto-reset must be in the future, got %v", resetsAt)
	}
}

func TestCanAffordNeuronsAndTrackNeuronsBypassCostFormula(t *testing.T) {
	tr := New(Config{DailyNeurons: 10}) // no CostPerMillionTokens configured

	// A caller that already knows its neuron count (e.g. batchLen*dimension
	// per §4.2) must charge it directly, not have it reinterpreted as a
	// token count and re-divided by costPerMillionTokens/1e6.
	if tr.CanAffordNeurons(1000) {
		t.Fatal("1000 neurons should not be affordable against a 10 neuron budget")
	}
	if !tr.CanAffordNeurons(5) {
		t.Fatal("5 neurons should be affordable against a 10 neuron budget")
	}

	tr.TrackNeurons(5)
	used, remaining, _, _ := tr.Stats()
	if used != 5 {
		t.Fatalf("used = %v, want 5", used)
	}
	if remaining != 5 {
		t.Fatalf("remaining = %v, want 5", remaining)
	}

	if tr.CanAffordNeurons(6) {
		t.Fatal("6 more neurons should not be affordable with only 5 remaining")
	}
}

func TestNeuronsForUnknownModelUsesDefault(t *testing.T) {
	tr := New(Config{DailyNeurons: 100})
	got := tr.NeuronsFor("unknown-model", 1_000_000)
	want := defaultCostPerMillionTokens
	if got != want {
		t.Fatalf("NeuronsFor(unknown) = %v, want %v", got, want)
	}
}
