package tracker

import (
	"sync/atomic"
	"time"
)

type (
	// FlushScheduler decides when the parameter flush runs next: every Fast
	// while parameters keep changing, backing off by Step on every idle tick
	// up to Slow.
	FlushScheduler struct {
		Fast, Step, Slow time.Duration
		interval         time.Duration
	}

	// parameterFlusher copies dirty parameters into the tree on the owning
	// goroutine, at the interval given by the scheduler.
	parameterFlusher struct {
		graph   *ProcessorGraph
		broker  *Broker
		sched   FlushScheduler
		metrics *Metrics

		timer  *time.Timer
		gen    int
		kicked atomic.Bool
	}
)

// Next returns the delay until the next flush, given whether the flush that
// just ran copied anything.
func (s *FlushScheduler) Next(flushed bool) time.Duration {
	if flushed || s.interval == 0 {
		s.interval = s.Fast
	} else {
		s.interval = min(s.interval+s.Step, s.Slow)
	}
	return s.interval
}

func (s *FlushScheduler) Interval() time.Duration { return s.interval }

// Reset makes the next interval fast.
func (s *FlushScheduler) Reset() { s.interval = 0 }

func newParameterFlusher(g *ProcessorGraph, b *Broker, sched FlushScheduler, metrics *Metrics) *parameterFlusher {
	f := &parameterFlusher{graph: g, broker: b, sched: sched, metrics: metrics}
	g.SetParameterDirtyHandler(f.kick)
	return f
}

func (f *parameterFlusher) start() { f.schedule(f.sched.Next(false)) }

func (f *parameterFlusher) stop() {
	f.gen++
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *parameterFlusher) schedule(d time.Duration) {
	f.stop()
	gen := f.gen
	f.metrics.flushInterval(d.Seconds())
	f.timer = f.broker.After(d, func() {
		if gen == f.gen {
			f.tick()
		}
	})
}

func (f *parameterFlusher) tick() {
	n := f.graph.FlushParameters()
	f.schedule(f.sched.Next(n > 0))
}

// kick is called on the audio goroutine when a parameter becomes dirty.
func (f *parameterFlusher) kick() {
	if !f.kicked.CompareAndSwap(false, true) {
		return
	}
	f.broker.Post(func() {
		f.kicked.Store(false)
		if f.timer != nil && f.sched.Interval() > f.sched.Fast {
			f.sched.Reset()
			f.schedule(f.sched.Next(true))
		}
	})
}
