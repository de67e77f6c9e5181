package drain

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/charlie/internal/stream"
)

type fakeSource struct {
	out, errs *stream.Mailbox
	state     stream.State
}

func newFakeSource() *fakeSource {
	return &fakeSource{out: stream.NewMailbox(), errs: stream.NewMailbox(), state: stream.StateRunning}
}

func (f *fakeSource) Mailboxes() (*stream.Mailbox, *stream.Mailbox) { return f.out, f.errs }
func (f *fakeSource) State() stream.State                           { return f.state }

type recordingSink struct {
	appends []string
	clears  int
}

func (s *recordingSink) Append(text string) { s.appends = append(s.appends, text) }
func (s *recordingSink) Clear()             { s.clears++; s.appends = nil }

func TestTickWithoutSource(t *testing.T) {
	d := New(NewBuffer(0), nil, 0)
	assert.False(t, d.Tick())
	assert.True(t, d.Idle())
}

func TestTickAppendsEveryLineOnce(t *testing.T) {
	src := newFakeSource()
	const n, m = 250, 130
	for i := range n {
		src.out.Push([]byte(fmt.Sprintf("out %d\n", i)))
	}
	for i := range m {
		src.errs.Push([]byte(fmt.Sprintf("err %d\n", i)))
	}

	buf := NewBuffer(0)
	d := New(buf, nil, 0)
	d.Attach(src)
	d.Flush()

	got := buf.String()
	for i := range n {
		assert.Equal(t, 1, strings.Count(got, fmt.Sprintf("out %d\n", i)))
	}
	for i := range m {
		assert.Equal(t, 1, strings.Count(got, fmt.Sprintf("err %d\n", i)))
	}
	assert.Equal(t, n+m, strings.Count(got, "\n"))
}

func TestTickIsIdempotentOnceDrained(t *testing.T) {
	src := newFakeSource()
	src.out.Push([]byte("a\n"))
	src.state = stream.StateFinished

	buf := NewBuffer(0)
	d := New(buf, nil, 0)
	d.Attach(src)

	assert.False(t, d.Idle())
	assert.True(t, d.Tick())
	assert.True(t, d.Idle())
	for range 5 {
		assert.False(t, d.Tick())
	}
	assert.Equal(t, "a\n", buf.String())
}

func TestTickRespectsCapPerQueue(t *testing.T) {
	src := newFakeSource()
	for range 250 {
		src.out.Push([]byte("o\n"))
		src.errs.Push([]byte("e\n"))
	}

	sink := &recordingSink{}
	d := New(sink, nil, 100)
	d.Attach(src)

	require.True(t, d.Tick())
	require.Len(t, sink.appends, 2, "one append per non-empty queue")
	assert.Equal(t, strings.Repeat("o\n", 100), sink.appends[0])
	assert.Equal(t, strings.Repeat("e\n", 100), sink.appends[1])
	assert.Equal(t, 150, src.out.Len())
	assert.Equal(t, 150, src.errs.Len())

	d.Tick()
	d.Tick()
	assert.Equal(t, 0, src.out.Len())
	assert.Len(t, sink.appends, 6)
	assert.Equal(t, strings.Repeat("o\n", 50), sink.appends[4])
}

func TestTickSkipsEmptyQueue(t *testing.T) {
	src := newFakeSource()
	src.errs.Push([]byte("only stderr\n"))

	sink := &recordingSink{}
	d := New(sink, nil, 0)
	d.Attach(src)

	require.True(t, d.Tick())
	assert.Equal(t, []string{"only stderr\n"}, sink.appends)
}

func TestTickNormalizesCRLF(t *testing.T) {
	src := newFakeSource()
	src.out.Push([]byte("one\r\n"))
	src.out.Push([]byte("two\r\n"))
	src.out.Push([]byte("progress\r50%\n"))

	buf := NewBuffer(0)
	d := New(buf, nil, 0)
	d.Attach(src)
	d.Tick()

	assert.Equal(t, "one\ntwo\nprogress\r50%\n", buf.String())
}

func TestAttachClearsAndIsolates(t *testing.T) {
	first := newFakeSource()
	first.out.Push([]byte("old\n"))

	buf := NewBuffer(0)
	d := New(buf, nil, 0)
	assert.Nil(t, d.Attach(first))
	d.Tick()
	assert.Equal(t, "old\n", buf.String())

	first.out.Push([]byte("late old\n"))
	second := newFakeSource()
	second.out.Push([]byte("new\n"))

	prev := d.Attach(second)
	assert.Same(t, first, prev)
	assert.Equal(t, "", buf.String())
	assert.Same(t, second, d.Current())

	d.Flush()
	assert.Equal(t, "new\n", buf.String())
}

func TestObserverSeesStreamNames(t *testing.T) {
	src := newFakeSource()
	src.out.Push([]byte("o\n"))
	src.errs.Push([]byte("e\n"))

	var seen []string
	d := New(NewBuffer(0), nil, 0)
	d.SetObserver(func(s Source, name, text string) {
		assert.Same(t, src, s)
		seen = append(seen, name+":"+text)
	})
	d.Attach(src)
	d.Tick()

	assert.Equal(t, []string{"stdout:o\n", "stderr:e\n"}, seen)
}

func TestRunDrainsUntilCanceled(t *testing.T) {
	src := newFakeSource()
	buf := NewBuffer(0)
	d := New(buf, nil, 0)
	d.Attach(src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, time.Millisecond) }()

	src.out.Push([]byte("tick\n"))
	require.Eventually(t, func() bool { return buf.String() == "tick\n" }, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestDrainRealProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("launches a shell")
	}
	l := stream.NewLauncher(nil, time.Second)
	p, err := l.Launch(context.Background(), "echo hello", ".")
	require.NoError(t, err)

	buf := NewBuffer(0)
	d := New(buf, nil, 0)
	d.Attach(p)

	require.Eventually(t, func() bool {
		d.Tick()
		return d.Idle()
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello\n", buf.String())
}
