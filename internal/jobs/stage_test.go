package jobs

import (
	"testing"

	"github.com/lucasmv/chatvault/internal/bus"
)

func TestInitialStage(t *testing.T) {
	m := newMachine("j1", nil)
	if m.Current() != Queued {
		t.Errorf("initial stage = %s, want QUEUED", m.Current())
	}
}

func TestHappyPathLifecycle(t *testing.T) {
	m := newMachine("j1", nil)

	steps := []Stage{Extracting, Parsing, Importing, Completed}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Completed {
		t.Errorf("final stage = %s, want COMPLETED", m.Current())
	}
}

func TestEveryWorkingStageCanFail(t *testing.T) {
	walks := [][]Stage{
		{},
		{Extracting},
		{Extracting, Parsing},
		{Extracting, Parsing, Importing},
	}
	for _, walk := range walks {
		m := newMachine("j1", nil)
		for _, s := range walk {
			if err := m.Transition(s); err != nil {
				t.Fatal(err)
			}
		}
		from := m.Current()
		if err := m.Transition(Failed); err != nil {
			t.Errorf("Transition(%s -> FAILED) error = %v", from, err)
		}
	}
}

func TestNoSkippingStages(t *testing.T) {
	m := newMachine("j1", nil)
	if err := m.Transition(Importing); err == nil {
		t.Error("Transition(QUEUED -> IMPORTING) should fail")
	}
	if m.Current() != Queued {
		t.Errorf("stage = %s, want QUEUED (should not have changed)", m.Current())
	}
}

func TestTerminalStagesAreFinal(t *testing.T) {
	for _, terminal := range []Stage{Completed, Failed} {
		if !terminal.Terminal() {
			t.Errorf("%s.Terminal() = false", terminal)
		}
	}
	if Importing.Terminal() {
		t.Error("IMPORTING.Terminal() = true")
	}

	m := newMachine("j1", nil)
	if err := m.Transition(Failed); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Extracting); err == nil {
		t.Error("transition out of FAILED should fail")
	}
}

func TestStagePercentMonotonic(t *testing.T) {
	order := []Stage{Queued, Extracting, Parsing, Importing, Completed}
	last := -1
	for _, s := range order {
		p := s.Percent()
		if p < 0 || p > 100 {
			t.Errorf("%s.Percent() = %d, out of range", s, p)
		}
		if p <= last {
			t.Errorf("%s.Percent() = %d, not greater than previous %d", s, p, last)
		}
		last = p
	}
	if Failed.Percent() != 100 {
		t.Errorf("FAILED.Percent() = %d, want 100", Failed.Percent())
	}
}

func TestTransitionEmitsProgressEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("job.", 10)
	defer unsub()

	m := newMachine("j1", b)
	if err := m.Transition(Extracting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindJobProgress {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindJobProgress)
	}
	change, ok := evt.Payload.(StageChange)
	if !ok {
		t.Fatalf("payload type = %T, want StageChange", evt.Payload)
	}
	if change.JobID != "j1" || change.From != Queued || change.To != Extracting {
		t.Errorf("change = %+v, want j1 QUEUED -> EXTRACTING", change)
	}
}
