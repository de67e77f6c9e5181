package drain

import (
	"io"
	"strings"
	"sync"
	"unicode/utf8"
)

// Sink receives decoded output text.
type Sink interface {
	Append(text string)
	Clear()
}

// Buffer is an in-memory Sink holding the text of the current process.
type Buffer struct {
	mu    sync.Mutex
	sb    strings.Builder
	limit int
}

// NewBuffer creates a buffer. A positive limit keeps only the most recent
// limit bytes, trimmed at a line boundary.
func NewBuffer(limit int) *Buffer {
	return &Buffer{limit: limit}
}

func (b *Buffer) Append(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sb.WriteString(text)
	if b.limit > 0 && b.sb.Len() > b.limit {
		s := b.sb.String()
		cut := len(s) - b.limit
		for cut < len(s) && !utf8.RuneStart(s[cut]) {
			cut++
		}
		s = s[cut:]
		if i := strings.IndexByte(s, '\n'); i >= 0 && i < len(s)-1 {
			s = s[i+1:]
		}
		b.sb.Reset()
		b.sb.WriteString(s)
	}
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sb.Reset()
}

// String returns the buffer contents exactly as appended.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

// View returns the contents for display, without the final line's newline.
func (b *Buffer) View() string {
	return strings.TrimSuffix(b.String(), "\n")
}

// Len returns the buffer size in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Len()
}

// WriterSink streams text to w. Clear is a no-op.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Append(text string) {
	_, _ = io.WriteString(s.W, text)
}

func (s WriterSink) Clear() {}

// FuncSink adapts a function to a Sink. Clear is a no-op.
type FuncSink func(text string)

func (f FuncSink) Append(text string) { f(text) }

func (f FuncSink) Clear() {}
