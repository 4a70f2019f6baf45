package state

type (
	// Event is one of PropertyChanged, ChildAdded, ChildWillBeRemoved,
	// ChildRemoved, ChildOrderChanged or Notified.
	Event interface {
		// Subject is the node whose subtree the event happened in. Listeners
		// receive the event if their scope is the subject or its ancestor.
		Subject() NodeID
		isEvent()
	}

	PropertyChanged struct {
		Node NodeID
		Name string
	}

	// ChildAdded is sent after the child has been inserted.
	ChildAdded struct {
		Parent, Child NodeID
		Index         int
		Moving        bool // part of a Reparent
	}

	// ChildWillBeRemoved is sent while the child is still attached, so
	// listeners can still read its old parent.
	ChildWillBeRemoved struct {
		Parent, Child NodeID
		Index         int
		Moving        bool
	}

	ChildRemoved struct {
		Parent, Child NodeID
		Index         int
		Moving        bool
	}

	ChildOrderChanged struct {
		Parent, Child NodeID
		From, To      int
	}

	// Notified carries a broadcast-only message that does not change the
	// tree, e.g. a selection change.
	Notified struct {
		Node    NodeID
		Message any
	}

	listener struct {
		scope   NodeID
		f       func(Event)
		removed bool
	}
)

func (e PropertyChanged) Subject() NodeID    { return e.Node }
func (e ChildAdded) Subject() NodeID         { return e.Parent }
func (e ChildWillBeRemoved) Subject() NodeID { return e.Parent }
func (e ChildRemoved) Subject() NodeID       { return e.Parent }
func (e ChildOrderChanged) Subject() NodeID  { return e.Parent }
func (e Notified) Subject() NodeID           { return e.Node }

func (PropertyChanged) isEvent()    {}
func (ChildAdded) isEvent()         {}
func (ChildWillBeRemoved) isEvent() {}
func (ChildRemoved) isEvent()       {}
func (ChildOrderChanged) isEvent()  {}
func (Notified) isEvent()           {}

// Subscribe registers f to be called synchronously for every event happening
// in the subtree rooted at scope. Listeners are called in subscription order.
// The returned function unsubscribes; it is safe to call it from within a
// callback.
func (t *Tree) Subscribe(scope NodeID, f func(Event)) (unsubscribe func()) {
	l := &listener{scope: scope, f: f}
	t.listeners = append(t.listeners, l)
	return func() {
		if l.removed {
			return
		}
		l.removed = true
		for i, o := range t.listeners {
			if o == l {
				t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
				break
			}
		}
	}
}

// Notify dispatches a Notified event synchronously. Use
// tracker.Broker.BroadcastAsync to post a notification from another
// goroutine.
func (t *Tree) Notify(id NodeID, message any) {
	t.dispatch(id, Notified{Node: id, Message: message})
}

func (t *Tree) dispatch(subject NodeID, e Event) {
	if len(t.listeners) == 0 {
		return
	}
	// snapshot: callbacks may subscribe or unsubscribe
	ls := t.listeners
	for _, l := range ls {
		if !l.removed && t.IsAncestorOf(l.scope, subject) {
			l.f(e)
		}
	}
}
