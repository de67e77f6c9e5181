// Package drain moves queued process output into a display sink on a fixed
// cadence, a bounded batch at a time, so the display never blocks on a
// chatty child.
package drain

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/charlie/internal/log"
	"github.com/mattjoyce/charlie/internal/stream"
)

// DefaultCap is the per-tick, per-queue item limit.
const DefaultCap = 100

// Stream names passed to an Observer.
const (
	Stdout = "stdout"
	Stderr = "stderr"
)

// Source is a process whose output can be drained, normally a *stream.Process.
type Source interface {
	Mailboxes() (stdout, stderr *stream.Mailbox)
	State() stream.State
}

// Observer is told about every chunk appended to the sink.
type Observer func(src Source, streamName, text string)

// Drainer owns the single "current process" slot and the sink it feeds.
type Drainer struct {
	mu       sync.Mutex
	sink     Sink
	dec      *Decoder
	cap      int
	current  Source
	observer Observer
	logger   *slog.Logger
}

// New creates a drainer. A nil decoder means UTF-8; limit <= 0 means DefaultCap.
func New(sink Sink, dec *Decoder, limit int) *Drainer {
	if dec == nil {
		dec, _ = NewDecoder(DefaultEncoding)
	}
	if limit <= 0 {
		limit = DefaultCap
	}
	return &Drainer{
		sink:   sink,
		dec:    dec,
		cap:    limit,
		logger: log.WithComponent("drain"),
	}
}

// SetObserver installs fn to be called after each append.
func (d *Drainer) SetObserver(fn Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = fn
}

// Attach clears the sink and makes src the current source, returning the
// previous one. Output from the previous source is never appended afterwards.
func (d *Drainer) Attach(src Source) Source {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.current
	d.sink.Clear()
	d.current = src
	return prev
}

// Current returns the attached source, or nil.
func (d *Drainer) Current() Source {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Idle reports whether there is nothing left to drain: no source, or a
// source in a terminal state with empty queues.
func (d *Drainer) Idle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return true
	}
	if !d.current.State().Terminal() {
		return false
	}
	out, errs := d.current.Mailboxes()
	return out.Len() == 0 && errs.Len() == 0
}

// Tick drains up to cap items from the current source's stdout and then its
// stderr, appending at most one chunk per queue. It never blocks on the
// source and reports whether anything was appended.
func (d *Drainer) Tick() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return false
	}
	out, errs := d.current.Mailboxes()

	appended := false
	for _, q := range []struct {
		name string
		box  *stream.Mailbox
	}{{Stdout, out}, {Stderr, errs}} {
		text := d.take(q.box)
		if text == "" {
			continue
		}
		d.sink.Append(text)
		if d.observer != nil {
			d.observer(d.current, q.name, text)
		}
		appended = true
	}
	return appended
}

func (d *Drainer) take(box *stream.Mailbox) string {
	var sb strings.Builder
	for range d.cap {
		item, ok := box.TryPop()
		if !ok {
			break
		}
		sb.WriteString(d.dec.Decode(item))
	}
	if sb.Len() == 0 {
		return ""
	}
	return strings.ReplaceAll(sb.String(), "\r\n", "\n")
}

// Flush ticks until a tick appends nothing.
func (d *Drainer) Flush() {
	for d.Tick() {
	}
}

// Run ticks every interval until ctx is canceled, then flushes what is
// already queued.
func (d *Drainer) Run(ctx context.Context, interval time.Duration) error {
	d.logger.Debug("drain loop started", "interval", interval, "cap", d.cap, "encoding", d.dec.Name())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.Flush()
			if n := d.dec.Replaced(); n > 0 {
				d.logger.Debug("replaced undecodable output", "chunks", n)
			}
			return ctx.Err()
		case <-ticker.C:
			d.Tick()
		}
	}
}
