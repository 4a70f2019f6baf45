package tracker

import "github.com/vsariola/soundmachine/state"

type (
	// Action describes a user action that can be performed on the model, which
	// can be initiated by calling the Do() method. It is usually initiated by a
	// button press or a menu item. Action advertises whether it is enabled, so
	// UI can e.g. gray out buttons when the underlying action is not allowed.
	// The underlying Doer can optionally implement the Enabler interface to
	// decide if the action is enabled or not; if it does not implement the
	// Enabler interface, the action is always allowed.
	Action struct {
		doer Doer
	}

	// Doer is an interface that defines a single Do() method, which is called
	// when an action is performed.
	Doer interface {
		Do()
	}

	// Enabler is an interface that defines a single Enabled() method, which
	// is used by the UI to check if UI Action/Bool/Int etc. is enabled or not.
	Enabler interface {
		Enabled() bool
	}
)

// Action methods

func MakeAction(doer Doer) Action {
	return Action{doer: doer}
}

func (a Action) Do() {
	e, ok := a.doer.(Enabler)
	if ok && !e.Enabled() {
		return
	}
	if a.doer != nil {
		a.doer.Do()
	}
}

func (a Action) Enabled() bool {
	if a.doer == nil {
		return false // no doer, not allowed
	}
	e, ok := a.doer.(Enabler)
	if !ok {
		return true // not enabler, always allowed
	}
	return e.Enabled()
}

// undo
type undo Model

func (m *Model) Undo() Action { return MakeAction((*undo)(m)) }
func (m *undo) Enabled() bool { return m.history.CanUndo() }
func (m *undo) Do() {
	(*Model)(m).EndDragging()
	m.history.Undo()
}

// redo
type redo Model

func (m *Model) Redo() Action { return MakeAction((*redo)(m)) }
func (m *redo) Enabled() bool { return m.history.CanRedo() }
func (m *redo) Do() {
	(*Model)(m).EndDragging()
	m.history.Redo()
}

// addTrack
type addTrack Model

func (m *Model) AddTrack() Action { return MakeAction((*addTrack)(m)) }
func (m *addTrack) Do() {
	if _, err := (*Model)(m).CreateTrack(""); err != nil {
		(*Model)(m).Alerts().Add("Could not add track: "+err.Error(), Error)
	}
}

// deleteSelected
type deleteSelected Model

func (m *Model) DeleteSelected() Action { return MakeAction((*deleteSelected)(m)) }
func (m *deleteSelected) Enabled() bool { return len((*Model)(m).selectedNodes()) > 0 }
func (m *deleteSelected) Do()           { (*Model)(m).deleteNodes((*Model)(m).selectedNodes()) }

// ToggleBypass returns an action toggling the bypass of the focused
// processor.
func (m *Model) ToggleBypass() Action { return MakeAction((*toggleFocusedBypass)(m)) }

type toggleFocusedBypass Model

func (m *toggleFocusedBypass) Enabled() bool { return (*Model)(m).FocusedProcessor() != state.None }
func (m *toggleFocusedBypass) Do() {
	proc := (*Model)(m).FocusedProcessor()
	(*Model)(m).SetBypassed(proc, !m.project.Tree.Bool(proc, PropBypassed))
}
