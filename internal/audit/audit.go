// Package audit appends security-relevant events for later review. Recording
// is best-effort and never blocks or fails the operation that triggered it.
package audit

import (
	"context"
	"sync"
	"time"

	"passport.org/internal/obs"
)

// Entry is one immutable audit record.
type Entry struct {
	ID         string
	AccountID  string // empty when the actor is unknown
	Action     string
	IP         string
	UserAgent  string
	Success    bool
	Error      string
	OccurredAt time.Time
}

// Sink persists entries. Implemented by the account stores.
type Sink interface {
	AppendAudit(ctx context.Context, entry Entry) error
}

// Recorder forwards entries to a sink from a single background goroutine.
// A full buffer drops the entry rather than blocking the caller; sink write
// failures are logged and swallowed. A nil Recorder discards everything,
// which keeps test doubles trivial.
type Recorder struct {
	sink      Sink
	ch        chan Entry
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	now       func() time.Time
}

// writeTimeout bounds a single sink write so a stuck store cannot wedge the
// drain goroutine forever.
const writeTimeout = 5 * time.Second

// NewRecorder starts a Recorder with the given buffer size.
func NewRecorder(bufferSize int, sink Sink) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	r := &Recorder{
		sink: sink,
		ch:   make(chan Entry, bufferSize),
		done: make(chan struct{}),
		now:  time.Now,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case entry := <-r.ch:
			r.append(entry)
		case <-r.done:
			for {
				select {
				case entry := <-r.ch:
					r.append(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) append(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.sink.AppendAudit(ctx, entry); err != nil {
		obs.CountAuditWriteFailure()
		obs.Logger().Warn().Err(err).Str("action", entry.Action).Msg("audit write failed")
	}
}

// Record enqueues an entry. It never blocks: if the buffer is full the entry
// is dropped and counted.
func (r *Recorder) Record(entry Entry) {
	if r == nil {
		return
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.now().UTC()
	}
	select {
	case r.ch <- entry:
	case <-r.done:
	default:
		obs.CountAuditDrop()
	}
}

// Close stops the recorder after draining buffered entries.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}
