package transaction

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// State machine event names.
const (
	evProvisional = "provisional"
	evSuccess     = "success"
	evFinal       = "final"
	evAck         = "ack"
	evTerminate   = "terminate"
)

func states(s ...State) []string {
	out := make([]string, len(s))
	for i := range s {
		out[i] = s[i].String()
	}
	return out
}

func newFSM(kind Kind) *fsm.FSM {
	switch kind {
	case ClientInvite:
		return fsm.NewFSM(
			StateCalling.String(),
			fsm.Events{
				{Name: evProvisional, Src: states(StateCalling, StateProceeding), Dst: StateProceeding.String()},
				{Name: evSuccess, Src: states(StateCalling, StateProceeding), Dst: StateAccepted.String()},
				{Name: evFinal, Src: states(StateCalling, StateProceeding), Dst: StateCompleted.String()},
				{Name: evTerminate, Src: states(StateCalling, StateProceeding, StateCompleted, StateAccepted), Dst: StateTerminated.String()},
			},
			fsm.Callbacks{},
		)
	case ClientNonInvite:
		return fsm.NewFSM(
			StateTrying.String(),
			fsm.Events{
				{Name: evProvisional, Src: states(StateTrying, StateProceeding), Dst: StateProceeding.String()},
				{Name: evFinal, Src: states(StateTrying, StateProceeding), Dst: StateCompleted.String()},
				{Name: evTerminate, Src: states(StateTrying, StateProceeding, StateCompleted), Dst: StateTerminated.String()},
			},
			fsm.Callbacks{},
		)
	case ServerInvite:
		return fsm.NewFSM(
			StateProceeding.String(),
			fsm.Events{
				{Name: evSuccess, Src: states(StateProceeding), Dst: StateAccepted.String()},
				{Name: evFinal, Src: states(StateProceeding), Dst: StateCompleted.String()},
				{Name: evAck, Src: states(StateCompleted), Dst: StateConfirmed.String()},
				{Name: evTerminate, Src: states(StateProceeding, StateCompleted, StateConfirmed, StateAccepted), Dst: StateTerminated.String()},
			},
			fsm.Callbacks{},
		)
	default:
		return fsm.NewFSM(
			StateTrying.String(),
			fsm.Events{
				{Name: evProvisional, Src: states(StateTrying, StateProceeding), Dst: StateProceeding.String()},
				{Name: evFinal, Src: states(StateTrying, StateProceeding), Dst: StateCompleted.String()},
				{Name: evTerminate, Src: states(StateTrying, StateProceeding, StateCompleted), Dst: StateTerminated.String()},
			},
			fsm.Callbacks{},
		)
	}
}

// fire drives the machine; staying in the same state is not an error.
func fire(f *fsm.FSM, event string) error {
	err := f.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return err
	}
	return nil
}
