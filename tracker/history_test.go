package tracker_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/vsariola/soundmachine/tracker"
)

// add adds d to *v. Consecutive adds to the same counter coalesce.
type add struct {
	v *int
	d int
}

func (a *add) Perform() bool { *a.v += a.d; return true }
func (a *add) Undo() bool    { *a.v -= a.d; return true }
func (a *add) Changed() bool { return a.d != 0 }

func (a *add) Coalesce(next tracker.Undoable) (tracker.Undoable, bool) {
	n, ok := next.(*add)
	if !ok || n.v != a.v {
		return nil, false
	}
	return &add{v: a.v, d: a.d + n.d}, true
}

// set is an undoable that does not coalesce.
type set struct {
	v       *int
	old, to int
}

func (s *set) Perform() bool { s.old, *s.v = *s.v, s.to; return true }
func (s *set) Undo() bool    { *s.v = s.old; return true }

func TestUndoRevertsWholeTransaction(t *testing.T) {
	h := tracker.NewHistory(0, nil, nil)
	var a, b int
	h.BeginNewTransaction("First")
	h.Perform(&set{v: &a, to: 1})
	h.Perform(&set{v: &b, to: 2})
	h.BeginNewTransaction("Second")
	h.Perform(&set{v: &a, to: 3})
	if got := h.UndoName(); got != "Second" {
		t.Errorf("undo name = %q, want Second", got)
	}
	h.Undo()
	if a != 1 || b != 2 {
		t.Fatalf("after one undo a, b = %d, %d, want 1, 2", a, b)
	}
	h.Undo()
	if a != 0 || b != 0 {
		t.Fatalf("after two undos a, b = %d, %d, want 0, 0", a, b)
	}
	if h.Undo() {
		t.Errorf("undo with an empty history should fail")
	}
	h.Redo()
	if a != 1 || b != 2 {
		t.Errorf("after redo a, b = %d, %d, want 1, 2", a, b)
	}
	if got := h.RedoName(); got != "Second" {
		t.Errorf("redo name = %q, want Second", got)
	}
}

func TestPerformClearsRedo(t *testing.T) {
	h := tracker.NewHistory(0, nil, nil)
	var a int
	h.Perform(&set{v: &a, to: 1})
	h.Undo()
	if !h.CanRedo() {
		t.Fatalf("expected something to redo")
	}
	h.BeginNewTransaction("")
	h.Perform(&set{v: &a, to: 2})
	if h.CanRedo() {
		t.Errorf("a new perform should clear the redo stack")
	}
}

func TestNoOpIsNotRecorded(t *testing.T) {
	h := tracker.NewHistory(0, nil, nil)
	var a int
	if !h.Perform(&add{v: &a}) {
		t.Fatalf("a no-op perform should succeed")
	}
	if h.CanUndo() {
		t.Errorf("a no-op was recorded")
	}
}

func TestCoalesce(t *testing.T) {
	h := tracker.NewHistory(0, nil, nil)
	var a, b int
	h.BeginNewTransaction("Drag")
	h.Perform(&add{v: &a, d: 1})
	h.Perform(&add{v: &a, d: 2})
	h.Perform(&add{v: &b, d: 5})
	if n := h.ActionsInCurrentTransaction(); n != 2 {
		t.Errorf("actions in transaction = %d, want 2", n)
	}
	h.Perform(&add{v: &b, d: -5})
	if n := h.ActionsInCurrentTransaction(); n != 1 {
		t.Errorf("a pair that cancels out should be dropped, got %d actions", n)
	}
	h.Undo()
	if a != 0 || b != 0 {
		t.Errorf("after undo a, b = %d, %d, want 0, 0", a, b)
	}
}

func TestUndoCurrentTransactionOnly(t *testing.T) {
	h := tracker.NewHistory(0, nil, nil)
	var a int
	h.BeginNewTransaction("Kept")
	h.Perform(&set{v: &a, to: 1})
	h.BeginNewTransaction("Dropped")
	h.Perform(&set{v: &a, to: 2})
	if !h.UndoCurrentTransactionOnly() {
		t.Fatalf("could not undo the open transaction")
	}
	if a != 1 {
		t.Errorf("a = %d, want 1", a)
	}
	if h.CanRedo() {
		t.Errorf("the dropped transaction should not be redoable")
	}
	if got := h.UndoName(); got != "Kept" {
		t.Errorf("undo name = %q, want Kept", got)
	}
	if h.UndoCurrentTransactionOnly() {
		t.Errorf("with no open transaction nothing should be undone")
	}
}

func TestMaxUndo(t *testing.T) {
	metrics := tracker.NewMetrics(prometheus.NewRegistry())
	h := tracker.NewHistory(2, nil, metrics)
	var a int
	for i := 1; i <= 3; i++ {
		h.BeginNewTransaction("")
		h.Perform(&set{v: &a, to: i})
	}
	undos := 0
	for h.Undo() {
		undos++
	}
	if undos != 2 {
		t.Errorf("undid %d transactions, want 2", undos)
	}
	if a != 1 {
		t.Errorf("a = %d, want 1", a)
	}
	if got := testutil.ToFloat64(metrics.Transactions); got != 3 {
		t.Errorf("transactions = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.Undos); got != 2 {
		t.Errorf("undos = %v, want 2", got)
	}
	h.Redo()
	if got := testutil.ToFloat64(metrics.Redos); got != 1 {
		t.Errorf("redos = %v, want 1", got)
	}
}

func TestOnChange(t *testing.T) {
	h := tracker.NewHistory(0, nil, nil)
	calls := 0
	h.OnChange = func() { calls++ }
	var a int
	h.Perform(&add{v: &a})
	h.Perform(&add{v: &a, d: 1})
	h.Undo()
	h.Redo()
	if calls != 3 {
		t.Errorf("OnChange called %d times, want 3", calls)
	}
}
