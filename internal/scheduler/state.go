package scheduler

import "fmt"

// State is a stage of a run.
type State string

const (
	StateIdle       State = "IDLE"
	StatePreparing  State = "PREPARING"
	StateScheduling State = "SCHEDULING"
	StateFinalizing State = "FINALIZING"
	StateCompleted  State = "COMPLETED"
	StateCancelled  State = "CANCELLED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:       {StatePreparing},
	StatePreparing:  {StateScheduling, StateCancelled, StateFailed},
	StateScheduling: {StateFinalizing, StateCancelled, StateFailed},
	StateFinalizing: {StateCompleted, StateFailed},
}

// stateMachine tracks one run's lifecycle.
type stateMachine struct {
	current State
	observe StateFunc
}

func newStateMachine(observe StateFunc) *stateMachine {
	return &stateMachine{current: StateIdle, observe: observe}
}

func (m *stateMachine) to(next State) error {
	for _, allowed := range transitions[m.current] {
		if allowed == next {
			m.current = next
			if m.observe != nil {
				m.observe(next)
			}
			return nil
		}
	}
	return fmt.Errorf("invalid run transition %s -> %s", m.current, next)
}
