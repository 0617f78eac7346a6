package journal

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
)

const (
	// recorderBuffer is the number of transitions waiting to be written.
	recorderBuffer = 256

	// writeTimeout bounds a single journal insert.
	writeTimeout = 5 * time.Second
)

// Logger is the logging subset the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Recorder writes transitions to a Repository off the caller's goroutine.
//
// Observe never blocks, so it is safe to call from a client's transition
// callback. When the buffer is full the transition is dropped and logged.
type Recorder struct {
	repo     Repository
	logger   Logger
	clientID func() string

	mu      sync.RWMutex
	closed  bool
	entries chan Entry
	done    chan struct{}
}

// NewRecorder starts a recorder. clientID is called for every transition
// so the journal follows client id changes.
func NewRecorder(repo Repository, logger Logger, clientID func() string) *Recorder {
	r := &Recorder{
		repo:     repo,
		logger:   logger,
		clientID: clientID,
		entries:  make(chan Entry, recorderBuffer),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

// Observe queues a transition for writing. Transitions observed after
// Close are ignored.
func (r *Recorder) Observe(t mqtt.Transition) {
	entry := FromTransition(r.clientID(), t)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.entries <- entry:
	default:
		r.logger.Warn("journal buffer full, dropping transition",
			"from", entry.FromState,
			"to", entry.ToState,
		)
	}
}

// Close writes what is buffered and stops the recorder.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.entries)
	r.mu.Unlock()

	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for entry := range r.entries {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := r.repo.Record(ctx, &entry); err != nil {
			r.logger.Error("journal write failed",
				"to", entry.ToState,
				"error", err,
			)
		}
		cancel()
	}
}
