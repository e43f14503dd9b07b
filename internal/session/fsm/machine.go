package fsm

import (
	"fmt"
	"sync"
)

// Phase describes where the session currently is in the
// generate-convert-load-execute pipeline.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseGenerating Phase = "generating"
	PhaseConverting Phase = "converting"
	PhaseLoading    Phase = "loading"
	PhaseExecuting  Phase = "executing"
)

// Machine is a lightweight deterministic session phase machine. Transitions
// are driven by the session controller only; observers read the phase.
type Machine struct {
	mu    sync.RWMutex
	phase Phase
}

// New creates a machine in the idle phase.
func New() *Machine {
	return &Machine{phase: PhaseIdle}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// OnGenerate marks a generation round trip in flight.
func (m *Machine) OnGenerate() {
	m.transition(PhaseGenerating)
}

// OnConvert marks a received clip being converted and persisted.
func (m *Machine) OnConvert() {
	m.transition(PhaseConverting)
}

// OnLoad marks the load command being issued.
func (m *Machine) OnLoad() {
	m.transition(PhaseLoading)
}

// OnExecute marks the clip as handed to the execution process. Loads are
// fire-and-forget, so this follows OnLoad immediately.
func (m *Machine) OnExecute() {
	m.transition(PhaseExecuting)
}

// OnIdle returns the session to idle.
func (m *Machine) OnIdle() {
	m.transition(PhaseIdle)
}

// Force sets the phase unconditionally.
func (m *Machine) Force(phase Phase) error {
	switch phase {
	case PhaseIdle, PhaseGenerating, PhaseConverting, PhaseLoading, PhaseExecuting:
		m.transition(phase)
		return nil
	default:
		return fmt.Errorf("invalid phase: %s", phase)
	}
}

func (m *Machine) transition(phase Phase) {
	m.mu.Lock()
	m.phase = phase
	m.mu.Unlock()
}
