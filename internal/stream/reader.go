package stream

import (
	"bufio"
	"errors"
	"io"
	"sync/atomic"
)

const readBufferSize = 64 * 1024

// Reader drains one stream line by line into a Mailbox on its own goroutine.
type Reader struct {
	name  string
	src   io.Reader
	box   *Mailbox
	done  chan struct{}
	err   error
	lines atomic.Int64
}

// StartReader starts a goroutine reading src into box until end-of-stream.
func StartReader(name string, src io.Reader, box *Mailbox) *Reader {
	r := &Reader{
		name: name,
		src:  src,
		box:  box,
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Reader) run() {
	defer close(r.done)

	br := bufio.NewReaderSize(r.src, readBufferSize)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			r.box.Push(line)
			r.lines.Add(1)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.err = err
			}
			return
		}
	}
}

// Name returns the stream name, e.g. "stdout".
func (r *Reader) Name() string { return r.name }

// Mailbox returns the queue this reader feeds.
func (r *Reader) Mailbox() *Mailbox { return r.box }

// Done returns a channel closed when the reader goroutine has exited.
func (r *Reader) Done() <-chan struct{} { return r.done }

// Lines returns the number of lines read so far.
func (r *Reader) Lines() int64 { return r.lines.Load() }

// Err returns the read error that ended the reader, if it was not a clean
// end-of-stream. Only meaningful after Done is closed.
func (r *Reader) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// EOF reports whether the reader has exited and its mailbox is empty.
// Advisory: callers poll it repeatedly.
func (r *Reader) EOF() bool {
	select {
	case <-r.done:
		return r.box.Len() == 0
	default:
		return false
	}
}
