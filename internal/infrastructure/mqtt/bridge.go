package mqtt

import "sync"

// eventQueueSize bounds the number of engine notifications waiting for
// dispatch. Engines block in Post while the queue is full.
const eventQueueSize = 64

// bridge moves engine notifications from engine goroutines onto a single
// dispatch goroutine, so client state changes and application callbacks
// never run concurrently for one client.
type bridge struct {
	events    chan Event
	wake      chan struct{}
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

func newBridge() *bridge {
	return &bridge{
		events: make(chan Event, eventQueueSize),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// run dispatches events until close is called, then drains what is queued.
// flush is called whenever signal was used.
func (b *bridge) run(handle func(Event), flush func()) {
	defer close(b.exited)
	for {
		select {
		case ev := <-b.events:
			handle(ev)
		case <-b.wake:
			flush()
		case <-b.done:
			for {
				select {
				case ev := <-b.events:
					handle(ev)
				default:
					flush()
					return
				}
			}
		}
	}
}

// signal asks the dispatch goroutine to call flush. It never blocks.
func (b *bridge) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// close stops the dispatch loop. It does not wait, so it is safe to call
// from inside a callback.
func (b *bridge) close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// sink returns the EventSink for one engine instance.
func (b *bridge) sink(generation uint64) *engineSink {
	return &engineSink{
		bridge:     b,
		generation: generation,
		quit:       make(chan struct{}),
	}
}

// engineSink tags events with the attempt generation that produced them.
// Once retired, Post drops events instead of blocking, which lets a
// superseded engine shut down even while the queue is full.
type engineSink struct {
	bridge     *bridge
	generation uint64
	quit       chan struct{}
	once       sync.Once
}

// Post implements EventSink.
func (s *engineSink) Post(ev Event) {
	select {
	case <-s.quit:
		return
	default:
	}

	ev.generation = s.generation
	select {
	case s.bridge.events <- ev:
	case <-s.bridge.done:
	case <-s.quit:
	}
}

func (s *engineSink) retire() {
	s.once.Do(func() { close(s.quit) })
}
