package linecodec

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// interruptingReader fails with EINTR before every successful read.
type interruptingReader struct {
	r           io.Reader
	interrupted bool
}

func (i *interruptingReader) Read(p []byte) (int, error) {
	if !i.interrupted {
		i.interrupted = true
		return 0, syscall.EINTR
	}

	i.interrupted = false
	return i.r.Read(p)
}

// trickleWriter accepts at most limit bytes per call and optionally fails
// with EINTR on the first call.
type trickleWriter struct {
	buf       bytes.Buffer
	limit     int
	calls     int
	interrupt bool
	maxChunk  int
}

func (t *trickleWriter) Write(p []byte) (int, error) {
	t.calls++
	if len(p) > t.maxChunk {
		t.maxChunk = len(p)
	}

	if t.interrupt && t.calls == 1 {
		return 0, syscall.EINTR
	}

	n := min(len(p), t.limit)
	t.buf.Write(p[:n])
	return n, nil
}

type stuckWriter struct{}

func (stuckWriter) Write(p []byte) (int, error) { return 0, nil }

func TestReceiveLine(t *testing.T) {
	t.Run("splits on newline and strips terminator", func(t *testing.T) {
		r := NewReader(strings.NewReader("hello\nworld\r\n"))

		line, err := r.ReceiveLine()
		require.NoError(t, err)
		assert.Equal(t, "hello", line)

		line, err = r.ReceiveLine()
		require.NoError(t, err)
		assert.Equal(t, "world", line)

		_, err = r.ReceiveLine()
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("empty stream is an orderly close", func(t *testing.T) {
		r := NewReader(strings.NewReader(""))
		_, err := r.ReceiveLine()
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("empty line is a message", func(t *testing.T) {
		r := NewReader(strings.NewReader("\n"))
		line, err := r.ReceiveLine()
		require.NoError(t, err)
		assert.Equal(t, "", line)
	})

	t.Run("partial line before close is delivered first", func(t *testing.T) {
		r := NewReader(strings.NewReader("a\nbye"))

		line, err := r.ReceiveLine()
		require.NoError(t, err)
		assert.Equal(t, "a", line)

		line, err = r.ReceiveLine()
		require.NoError(t, err)
		assert.Equal(t, "bye", line)

		_, err = r.ReceiveLine()
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("accumulates one byte reads", func(t *testing.T) {
		r := NewReader(iotest.OneByteReader(strings.NewReader("CONNECT\n@bob hi\n")))

		line, err := r.ReceiveLine()
		require.NoError(t, err)
		assert.Equal(t, "CONNECT", line)

		line, err = r.ReceiveLine()
		require.NoError(t, err)
		assert.Equal(t, "@bob hi", line)
	})

	t.Run("retries interrupted reads", func(t *testing.T) {
		r := NewReader(&interruptingReader{r: iotest.HalfReader(strings.NewReader("interrupted line\n"))})

		line, err := r.ReceiveLine()
		require.NoError(t, err)
		assert.Equal(t, "interrupted line", line)
	})

	t.Run("other read errors are reported", func(t *testing.T) {
		r := NewReader(iotest.ErrReader(assert.AnError))

		_, err := r.ReceiveLine()
		assert.ErrorIs(t, err, assert.AnError)
		assert.NotErrorIs(t, err, ErrClosed)
	})

	t.Run("rejects lines over the limit", func(t *testing.T) {
		r := NewReaderSize(strings.NewReader("0123456789\nok\n"), 8)
		_, err := r.ReceiveLine()
		assert.ErrorIs(t, err, ErrLineTooLong)

		line, err := r.ReceiveLine()
		require.NoError(t, err)
		assert.Equal(t, "ok", line)
	})

	t.Run("skips an oversized line and resumes at the next one", func(t *testing.T) {
		input := strings.Repeat("x", 20000) + "\nafter\n"
		r := NewReaderSize(iotest.HalfReader(strings.NewReader(input)), 16)

		_, err := r.ReceiveLine()
		assert.ErrorIs(t, err, ErrLineTooLong)

		line, err := r.ReceiveLine()
		require.NoError(t, err)
		assert.Equal(t, "after", line)

		_, err = r.ReceiveLine()
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("rejects unterminated lines larger than the buffer", func(t *testing.T) {
		r := NewReaderSize(strings.NewReader(strings.Repeat("x", 10000)), 16)
		_, err := r.ReceiveLine()
		assert.ErrorIs(t, err, ErrLineTooLong)

		_, err = r.ReceiveLine()
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("accepts lines longer than the bufio buffer within the limit", func(t *testing.T) {
		long := strings.Repeat("y", 6000)
		r := NewReaderSize(strings.NewReader(long+"\n"), 8000)
		line, err := r.ReceiveLine()
		require.NoError(t, err)
		assert.Equal(t, long, line)
	})
}

func TestSendLine(t *testing.T) {
	t.Run("appends exactly one terminator", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, SendLine(&buf, "hello"))
		assert.Equal(t, "hello\n", buf.String())
	})

	t.Run("writes in bounded chunks and resumes short writes", func(t *testing.T) {
		w := &trickleWriter{limit: 100}
		payload := strings.Repeat("z", 1000)

		require.NoError(t, SendLine(w, payload))
		assert.Equal(t, payload+"\n", w.buf.String())
		assert.LessOrEqual(t, w.maxChunk, WriteChunkSize)
		assert.Equal(t, 11, w.calls)
	})

	t.Run("retries interrupted writes", func(t *testing.T) {
		w := &trickleWriter{limit: 3, interrupt: true}
		require.NoError(t, SendLine(w, "abcdef"))
		assert.Equal(t, "abcdef\n", w.buf.String())
	})

	t.Run("zero progress is a short write", func(t *testing.T) {
		err := SendLine(stuckWriter{}, "x")
		assert.ErrorIs(t, err, io.ErrShortWrite)
	})

	t.Run("write failure after peer close", func(t *testing.T) {
		a, b := net.Pipe()
		require.NoError(t, b.Close())

		err := SendLine(a, "anyone?")
		require.Error(t, err)
		assert.True(t, IsDisconnect(err))
		_ = a.Close()
	})
}

func TestRoundTrip(t *testing.T) {
	payloads := []string{
		"",
		"hello",
		"[alice, to ALL] hello there",
		"unicode: héllo wörld ✓",
		strings.Repeat("long ", 300),
	}

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		w := NewWriter(client)
		for _, p := range payloads {
			_ = w.SendLine(p)
		}
	}()

	r := NewReader(server)
	for _, want := range payloads {
		got, err := r.ReceiveLine()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestWriter_ConcurrentLinesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	line := strings.Repeat("q", 3*WriteChunkSize)
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.SendLine(line)
		}()
	}
	wg.Wait()

	r := NewReader(&buf)
	for range 20 {
		got, err := r.ReceiveLine()
		require.NoError(t, err)
		assert.Equal(t, line, got)
	}
}

func TestIsDisconnect(t *testing.T) {
	assert.True(t, IsDisconnect(ErrClosed))
	assert.True(t, IsDisconnect(net.ErrClosed))
	assert.True(t, IsDisconnect(errors.Join(errors.New("write"), syscall.ECONNRESET)))
	assert.False(t, IsDisconnect(ErrLineTooLong))
	assert.False(t, IsDisconnect(nil))
}
