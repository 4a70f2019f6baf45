package tracker

import (
	"context"
	"time"

	"github.com/vsariola/soundmachine/state"
)

type (
	// Broker runs the tasks of the owning goroutine. Everything that touches
	// the project tree, the history or the processor graph structure happens
	// in a task; other goroutines (the audio goroutine, timers) Post closures
	// instead of touching the model directly.
	//
	// For closing, the broker has two channels: CloseModel and FinishedModel.
	// CloseModel has a capacity of 1, so you can always try to send an empty
	// struct to it without blocking. If the channel is already full, someone
	// else has already requested closing. FinishedModel is closed when Run
	// has returned:
	//    select {
	//      case <-FinishedModel:
	//      case <-time.After(3 * time.Second):
	//    }
	Broker struct {
		ToModel chan func()

		CloseModel    chan struct{}
		FinishedModel chan struct{}
	}
)

func NewBroker() *Broker {
	return &Broker{
		ToModel:       make(chan func(), 1024),
		CloseModel:    make(chan struct{}, 1),
		FinishedModel: make(chan struct{}),
	}
}

// Post queues f to be run on the owning goroutine. It never blocks; false
// means the queue was full and f was dropped.
func (b *Broker) Post(f func()) bool { return TrySend(b.ToModel, f) }

// After runs f on the owning goroutine after d.
func (b *Broker) After(d time.Duration, f func()) *time.Timer {
	return time.AfterFunc(d, func() { b.Post(f) })
}

// BroadcastAsync posts a broadcast-only notification to the owning
// goroutine. It is delivered after the events already dispatched, but is not
// ordered with respect to synchronous tree events that follow.
func (b *Broker) BroadcastAsync(t *state.Tree, node state.NodeID, message any) bool {
	return b.Post(func() { t.Notify(node, message) })
}

// Run executes posted tasks until the context is done or closing is
// requested.
func (b *Broker) Run(ctx context.Context) error {
	defer close(b.FinishedModel)
	for {
		select {
		case f := <-b.ToModel:
			f()
		case <-b.CloseModel:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Drain runs the tasks queued so far and returns how many ran. Tests use it
// to run the loop step by step on the calling goroutine.
func (b *Broker) Drain() int {
	n := 0
	for {
		select {
		case f := <-b.ToModel:
			f()
			n++
		default:
			return n
		}
	}
}

// TrySend is a helper function to send a value to a channel if it is not full.
// It is guaranteed to be non-blocking. Return true if the value was sent, false
// otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive is a helper function to block until a value is received from a
// channel, or timing out after t. ok will be false if the timeout occurred or
// if the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
