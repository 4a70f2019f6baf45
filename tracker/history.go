package tracker

import (
	"log/slog"
)

type (
	// Undoable is a reversible change to the project. Perform and Undo return
	// false if nothing could be done.
	Undoable interface {
		Perform() bool
		Undo() bool
	}

	// Coalescer is implemented by undoables that can merge with the next
	// undoable performed in the same transaction. The merged undoable must
	// undo to the state before the receiver and perform to the state after
	// next.
	Coalescer interface {
		Coalesce(next Undoable) (Undoable, bool)
	}

	// Changer is implemented by undoables that know up front if they change
	// anything. Undoables that report false are performed but never recorded.
	Changer interface {
		Changed() bool
	}

	// Previewer is implemented by undoables whose effect can be applied and
	// reverted without side effects beyond the tree, e.g. to compute the
	// default connections of the resulting state.
	Previewer interface {
		PerformTemporary()
		UndoTemporary()
	}

	transaction struct {
		name    string
		actions []Undoable
	}

	// History is the undo/redo stack of transactions. Undo and redo work on
	// whole transactions; a transaction collects everything performed between
	// two calls of BeginNewTransaction.
	History struct {
		undo           []*transaction
		redo           []*transaction
		newTransaction bool
		pendingName    string
		maxUndo        int
		log            *slog.Logger
		metrics        *Metrics

		// OnChange is called after every recorded perform, undo and redo.
		OnChange func()
	}
)

const defaultMaxUndo = 64

func NewHistory(maxUndo int, log *slog.Logger, metrics *Metrics) *History {
	if maxUndo <= 0 {
		maxUndo = defaultMaxUndo
	}
	if log == nil {
		log = slog.Default()
	}
	return &History{maxUndo: maxUndo, newTransaction: true, log: log, metrics: metrics}
}

// BeginNewTransaction closes the current transaction; the next perform starts
// a new one.
func (h *History) BeginNewTransaction(name string) {
	h.newTransaction = true
	h.pendingName = name
}

// Perform performs the undoable and records it in the current transaction,
// merging it with the previous undoable when possible.
func (h *History) Perform(u Undoable) bool {
	if u == nil {
		return false
	}
	if c, ok := u.(Changer); ok && !c.Changed() {
		u.Perform()
		return true
	}
	if !u.Perform() {
		return false
	}
	h.redo = h.redo[:0]
	if h.newTransaction || len(h.undo) == 0 {
		h.undo = append(h.undo, &transaction{name: h.pendingName})
		h.newTransaction = false
		h.pendingName = ""
		if len(h.undo) > h.maxUndo {
			h.undo = h.undo[len(h.undo)-h.maxUndo:]
		}
		h.metrics.transaction()
		h.log.Debug("transaction started", "name", h.undo[len(h.undo)-1].name)
	}
	t := h.undo[len(h.undo)-1]
	if n := len(t.actions); n > 0 {
		if c, ok := t.actions[n-1].(Coalescer); ok {
			if merged, ok := c.Coalesce(u); ok {
				t.actions[n-1] = merged
				if c, ok := merged.(Changer); ok && !c.Changed() {
					t.actions = t.actions[:n-1] // the pair cancelled out
				}
				h.changed()
				return true
			}
		}
	}
	t.actions = append(t.actions, u)
	h.changed()
	return true
}

func (h *History) CanUndo() bool { return len(h.undo) > 0 }
func (h *History) CanRedo() bool { return len(h.redo) > 0 }

// Undo reverts the latest transaction.
func (h *History) Undo() bool {
	if len(h.undo) == 0 {
		return false
	}
	t := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	for i := len(t.actions) - 1; i >= 0; i-- {
		t.actions[i].Undo()
	}
	h.redo = append(h.redo, t)
	h.newTransaction = true
	h.metrics.undo()
	h.changed()
	return true
}

func (h *History) Redo() bool {
	if len(h.redo) == 0 {
		return false
	}
	t := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	for _, a := range t.actions {
		a.Perform()
	}
	h.undo = append(h.undo, t)
	h.newTransaction = true
	h.metrics.redo()
	h.changed()
	return true
}

// UndoCurrentTransactionOnly reverts the transaction that is still open and
// forgets it, without making it redoable.
func (h *History) UndoCurrentTransactionOnly() bool {
	if h.newTransaction || len(h.undo) == 0 {
		return false
	}
	t := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	for i := len(t.actions) - 1; i >= 0; i-- {
		t.actions[i].Undo()
	}
	h.newTransaction = true
	h.changed()
	return true
}

// ActionsInCurrentTransaction returns the number of undoables recorded in the
// open transaction.
func (h *History) ActionsInCurrentTransaction() int {
	if h.newTransaction || len(h.undo) == 0 {
		return 0
	}
	return len(h.undo[len(h.undo)-1].actions)
}

// UndoName is the name of the transaction Undo would revert.
func (h *History) UndoName() string {
	if len(h.undo) == 0 {
		return ""
	}
	return h.undo[len(h.undo)-1].name
}

func (h *History) RedoName() string {
	if len(h.redo) == 0 {
		return ""
	}
	return h.redo[len(h.redo)-1].name
}

// Clear forgets all transactions, e.g. after loading a project.
func (h *History) Clear() {
	h.undo, h.redo = nil, nil
	h.newTransaction = true
}

func (h *History) changed() {
	if h.OnChange != nil {
		h.OnChange()
	}
}
