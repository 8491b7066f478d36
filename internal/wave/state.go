package wave

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Rogers-F/wavequorum/internal/domain"
)

// validTransitions defines the legal task state transitions.
// Each key is a source state, and the value is the set of valid target states.
var validTransitions = map[domain.TaskState]map[domain.TaskState]bool{
	domain.TaskPending:   {domain.TaskReady: true, domain.TaskFailed: true},
	domain.TaskReady:     {domain.TaskRunning: true, domain.TaskFailed: true},
	domain.TaskRunning:   {domain.TaskSucceeded: true, domain.TaskFailed: true},
	domain.TaskSucceeded: {domain.TaskFailed: true}, // wave rollback
}

// IsValidTransition checks if a task state transition is legal.
func IsValidTransition(from, to domain.TaskState) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// runState is the per-run record of task states and outcomes. Each Execute
// call owns its own runState.
type runState struct {
	mu       sync.Mutex
	states   map[string]domain.TaskState
	outcomes map[string]domain.TaskOutcome
}

func newRunState(tasks []domain.Task) *runState {
	rs := &runState{
		states:   make(map[string]domain.TaskState, len(tasks)),
		outcomes: make(map[string]domain.TaskOutcome, len(tasks)),
	}
	for _, t := range tasks {
		rs.states[t.ID] = domain.TaskPending
		rs.outcomes[t.ID] = domain.TaskOutcome{TaskID: t.ID, State: domain.TaskPending}
	}
	return rs
}

func (rs *runState) transition(id string, to domain.TaskState) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.transitionLocked(id, to)
}

func (rs *runState) transitionLocked(id string, to domain.TaskState) error {
	from, ok := rs.states[id]
	if !ok {
		return domain.NewEngineError(domain.ErrInvalidTransition.Code, fmt.Sprintf("%s: unknown task %s", domain.ErrInvalidTransition.Message, id))
	}
	if !IsValidTransition(from, to) {
		return domain.NewEngineError(domain.ErrInvalidTransition.Code,
			fmt.Sprintf("%s: %s %s -> %s", domain.ErrInvalidTransition.Message, id, from, to))
	}
	rs.states[id] = to
	o := rs.outcomes[id]
	o.State = to
	rs.outcomes[id] = o
	return nil
}

// succeed moves a running task to Succeeded and records its output.
func (rs *runState) succeed(id string, wave int, out *domain.CandidateOutput, res *domain.ConsensusResult) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.transitionLocked(id, domain.TaskSucceeded); err != nil {
		return err
	}
	o := rs.outcomes[id]
	o.Wave, o.Output, o.Consensus = wave, out, res
	o.Reason, o.Detail = domain.ReasonNone, ""
	rs.outcomes[id] = o
	return nil
}

// fail moves a task to Failed with reason.
func (rs *runState) fail(id string, wave int, reason domain.FailureReason, detail string, res *domain.ConsensusResult) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.transitionLocked(id, domain.TaskFailed); err != nil {
		return err
	}
	o := rs.outcomes[id]
	o.Wave, o.Reason, o.Detail = wave, reason, detail
	if res != nil {
		o.Consensus = res
	}
	// A rolled-back output no longer exists in the workspace.
	if reason == domain.ReasonRolledBackWithWave {
		o.Output = nil
	}
	rs.outcomes[id] = o
	return nil
}

func (rs *runState) statesCopy() map[string]domain.TaskState {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]domain.TaskState, len(rs.states))
	for k, v := range rs.states {
		out[k] = v
	}
	return out
}

func (rs *runState) state(id string) domain.TaskState {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.states[id]
}

// nonTerminal returns the IDs not yet Succeeded or Failed, ascending.
func (rs *runState) nonTerminal() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var out []string
	for id, s := range rs.states {
		if !s.IsTerminal() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (rs *runState) outcomesCopy() map[string]domain.TaskOutcome {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]domain.TaskOutcome, len(rs.outcomes))
	for k, v := range rs.outcomes {
		out[k] = v
	}
	return out
}
