package workflow

import (
	"context"
	"fmt"
)

// GuardFunc decides whether a guarded transition may be taken
type GuardFunc func(ctx context.Context) bool

// StateMachine tracks the current state of one instance and validates actions against it
type StateMachine interface {
	State() State

	// CanFire reports whether the trigger has at least one configured transition
	// out of the current state. Guards are not evaluated.
	CanFire(trigger Trigger) bool

	// Fire takes the first transition whose guard passes and returns the new state
	Fire(ctx context.Context, trigger Trigger) (State, error)

	PermittedTriggers() []Trigger
}

// StateMachineBuilder collects transitions and stamps out machines
type StateMachineBuilder interface {
	Configure(state State) StateConfiguration
	Build(initialState State) StateMachine
}

// StateConfiguration configures the transitions out of one state
type StateConfiguration interface {
	Permit(trigger Trigger, toState State) StateConfiguration
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

type transition struct {
	trigger Trigger
	to      State
	guard   GuardFunc
}

// transitionTable maps a source state to its transitions in declaration order
type transitionTable map[State][]transition

func (t transitionTable) clone() transitionTable {
	out := make(transitionTable, len(t))
	for from, ts := range t {
		out[from] = append([]transition(nil), ts...)
	}
	return out
}

type builder struct {
	table transitionTable
}

type stateConfig struct {
	from  State
	table transitionTable
}

type machine struct {
	current State
	table   transitionTable
}

// NewBuilder creates an empty state machine builder
func NewBuilder() StateMachineBuilder {
	return &builder{table: make(transitionTable)}
}

func (b *builder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if _, ok := b.table[state]; !ok {
		b.table[state] = nil
	}
	return &stateConfig{from: state, table: b.table}
}

// Build copies the table so later Configure calls do not leak into built machines
func (b *builder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}
	return &machine{current: initialState, table: b.table.clone()}
}

func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	c.table[c.from] = append(c.table[c.from], transition{trigger: trigger, to: toState, guard: guard})
	return c
}

func (m *machine) State() State {
	return m.current
}

func (m *machine) CanFire(trigger Trigger) bool {
	for _, t := range m.table[m.current] {
		if t.trigger == trigger {
			return true
		}
	}
	return false
}

func (m *machine) Fire(ctx context.Context, trigger Trigger) (State, error) {
	matched := false
	for _, t := range m.table[m.current] {
		if t.trigger != trigger {
			continue
		}
		matched = true
		if t.guard == nil || t.guard(ctx) {
			m.current = t.to
			return m.current, nil
		}
	}
	if !matched {
		return m.current, fmt.Errorf("%w: cannot fire %s from state %s", ErrInvalidTransition, trigger, m.current)
	}
	return m.current, fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, m.current)
}

func (m *machine) PermittedTriggers() []Trigger {
	seen := make(map[Trigger]bool)
	var triggers []Trigger
	for _, t := range m.table[m.current] {
		if !seen[t.trigger] {
			seen[t.trigger] = true
			triggers = append(triggers, t.trigger)
		}
	}
	return triggers
}
