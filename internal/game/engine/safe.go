package engine

import "fmt"

// SafeApply calls a.Apply and converts a panic into ErrIllegalMove so a
// faulty adapter can never take down the caller holding a room lock.
//
// Postcondition: On error the returned State equals the input state.
func SafeApply(a Adapter, state State, seat Seat, mv Move) (next State, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = state
			err = fmt.Errorf("%w: adapter panic: %v", ErrIllegalMove, r)
		}
	}()
	next, err = a.Apply(state, seat, mv)
	if err != nil {
		return state, err
	}
	return next, nil
}

// SafeOutcome calls a.Outcome, treating a panic as a non-terminal state.
func SafeOutcome(a Adapter, state State) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{}
		}
	}()
	return a.Outcome(state)
}

// SafeSnapshot calls a.Snapshot, returning nil if the adapter panics.
func SafeSnapshot(a Adapter, state State) (snap any) {
	defer func() {
		if r := recover(); r != nil {
			snap = nil
		}
	}()
	return a.Snapshot(state)
}
