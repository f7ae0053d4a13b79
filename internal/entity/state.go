package entity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/looplab/fsm"

	"github.com/roach88/odatalink/internal/errs"
)

// State is a lifecycle state of an entity instance.
type State string

const (
	StateTransient State = "transient"
	StateNew       State = "new"
	StateLoaded    State = "loaded"
	StateDirty     State = "dirty"
	StateSaving    State = "saving"
	StateDeleting  State = "deleting"
	StateDeleted   State = "deleted"
)

// Lifecycle events.
const (
	EventCreate   = "create"
	EventLoad     = "load"
	EventMutate   = "mutate"
	EventClean    = "clean"
	EventSave     = "save"
	EventSaved    = "saved"
	EventDelete   = "delete"
	EventDeleted  = "deleted"
	EventRefresh  = "refresh"
	enterStateCbk = "enter_state"
)

// lifecycle is the transition table:
//
//	transient --create--> new
//	transient --load----> loaded
//	loaded    --mutate--> dirty
//	dirty     --clean---> loaded        (diff turned out empty)
//	new|dirty --save----> saving
//	saving    --saved---> loaded
//	saving    --recover-> new|dirty     (failure: prior state restored)
//	loaded|dirty --delete--> deleting
//	deleting  --deleted-> deleted
//	deleting  --recover-> loaded|dirty
//	loaded|dirty --refresh--> loaded
//
// recover is applied with SetState because its destination depends on the
// state the entity left.
var lifecycle = fsm.Events{
	{Name: EventCreate, Src: []string{string(StateTransient)}, Dst: string(StateNew)},
	{Name: EventLoad, Src: []string{string(StateTransient)}, Dst: string(StateLoaded)},
	{Name: EventMutate, Src: []string{string(StateLoaded)}, Dst: string(StateDirty)},
	{Name: EventClean, Src: []string{string(StateDirty)}, Dst: string(StateLoaded)},
	{Name: EventSave, Src: []string{string(StateNew), string(StateDirty)}, Dst: string(StateSaving)},
	{Name: EventSaved, Src: []string{string(StateSaving)}, Dst: string(StateLoaded)},
	{Name: EventDelete, Src: []string{string(StateLoaded), string(StateDirty)}, Dst: string(StateDeleting)},
	{Name: EventDeleted, Src: []string{string(StateDeleting)}, Dst: string(StateDeleted)},
	{Name: EventRefresh, Src: []string{string(StateLoaded), string(StateDirty)}, Dst: string(StateLoaded)},
}

func newMachine(typeName string) *fsm.FSM {
	return fsm.NewFSM(string(StateTransient), lifecycle, fsm.Callbacks{
		enterStateCbk: func(_ context.Context, e *fsm.Event) {
			slog.Debug("entity state change",
				"type", typeName,
				"event", e.Event,
				"from", e.Src,
				"to", e.Dst,
			)
		},
	})
}

// State returns the current lifecycle state.
func (e *Entity) State() State {
	return State(e.machine.Current())
}

// Is reports whether the entity is in state s.
func (e *Entity) Is(s State) bool {
	return e.machine.Is(string(s))
}

// transition fires event, mapping fsm errors to INVALID_STATE.
// A self-transition is not an error.
func (e *Entity) transition(event string) error {
	err := e.machine.Event(context.Background(), event)
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return &errs.Error{
		Code:    errs.ErrCodeInvalidState,
		Message: "cannot " + event + " " + e.typ.Name() + " in state " + e.machine.Current(),
		Err:     err,
	}
}

// BeginSave moves a new or dirty entity to saving, remembering the state to
// restore on failure.
func (e *Entity) BeginSave() error {
	prior := e.State()
	if err := e.transition(EventSave); err != nil {
		return err
	}
	e.prior = prior
	return nil
}

// CompleteSave marks a save as successful: the snapshot becomes a copy of
// the current values, pending bindings are cleared and the entity is loaded.
func (e *Entity) CompleteSave() error {
	if err := e.transition(EventSaved); err != nil {
		return err
	}
	e.takeSnapshot()
	e.binds = nil
	e.bindOrder = nil
	e.lastErr = nil
	return nil
}

// FailSave restores the state held before BeginSave and records err.
// Local values are left as they are.
func (e *Entity) FailSave(err error) {
	e.recover(err)
}

// MarkClean returns a dirty entity whose diff is empty to loaded.
func (e *Entity) MarkClean() error {
	return e.transition(EventClean)
}

// BeginDelete moves a loaded or dirty entity to deleting.
func (e *Entity) BeginDelete() error {
	prior := e.State()
	if err := e.transition(EventDelete); err != nil {
		return err
	}
	e.prior = prior
	return nil
}

// CompleteDelete marks the entity deleted. Deleted is terminal.
func (e *Entity) CompleteDelete() error {
	return e.transition(EventDeleted)
}

// FailDelete restores the state held before BeginDelete and records err.
func (e *Entity) FailDelete(err error) {
	e.recover(err)
}

func (e *Entity) recover(err error) {
	if e.prior != "" {
		e.machine.SetState(string(e.prior))
		e.prior = ""
	}
	e.lastErr = err
}

// Err returns the error of the last failed save or delete, if any.
func (e *Entity) Err() error {
	return e.lastErr
}
