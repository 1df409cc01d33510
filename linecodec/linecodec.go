// Package linecodec frames a byte stream into newline-terminated text lines.
// It is the wire format shared by the chat server and its clients.
package linecodec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
)

const (
	// DefaultMaxLineLength is the longest line, terminator excluded, a Reader
	// accepts unless configured otherwise.
	DefaultMaxLineLength = 4096

	// WriteChunkSize bounds a single Write call issued by SendLine.
	WriteChunkSize = 256

	terminator = '\n'
)

var (
	// ErrClosed is returned by ReceiveLine when the peer closed the stream and
	// no partial line was pending. It signals an orderly close, not a failure.
	ErrClosed = errors.New("stream closed by peer")

	// ErrLineTooLong is returned when a line exceeds the reader's limit. The
	// stream stays usable: the oversized line has been discarded.
	ErrLineTooLong = errors.New("line too long")
)

// Reader decodes lines from an underlying stream. A Reader is not safe for
// concurrent use; each connection has exactly one reading goroutine.
type Reader struct {
	br     *bufio.Reader
	maxLen int
}

// NewReader returns a Reader using DefaultMaxLineLength.
//
// Parameters:
//   - r: The stream to read from
//
// Returns:
//   - A new Reader
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultMaxLineLength)
}

// NewReaderSize returns a Reader that rejects lines longer than maxLen bytes.
// A non-positive maxLen selects DefaultMaxLineLength.
//
// Parameters:
//   - r: The stream to read from
//   - maxLen: Maximum line length in bytes, terminator excluded
//
// Returns:
//   - A new Reader
func NewReaderSize(r io.Reader, maxLen int) *Reader {
	if maxLen <= 0 {
		maxLen = DefaultMaxLineLength
	}

	return &Reader{
		br:     bufio.NewReader(r),
		maxLen: maxLen,
	}
}

// ReceiveLine blocks until a full line is available and returns it with the
// terminator (and an optional preceding carriage return) stripped.
//
// If the stream ends in the middle of a line, that partial line is returned
// first and the following call reports ErrClosed. Reads interrupted by EINTR
// are retried. A line over the limit is consumed up to its terminator and
// reported as ErrLineTooLong; the next call starts at the following line.
//
// Returns:
//   - The decoded line
//   - ErrClosed on orderly close, ErrLineTooLong, or a wrapped read error
func (r *Reader) ReceiveLine() (string, error) {
	var line []byte
	for {
		chunk, err := r.br.ReadSlice(terminator)
		line = append(line, chunk...)

		switch {
		case err == nil:
			text := trimTerminator(line)
			if len(text) > r.maxLen {
				return "", ErrLineTooLong
			}

			return string(text), nil
		case errors.Is(err, bufio.ErrBufferFull):
			if len(line) > r.maxLen+2 {
				return "", r.skipLine()
			}
		case errors.Is(err, syscall.EINTR):
			continue
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return "", ErrClosed
			}

			text := trimTerminator(line)
			if len(text) > r.maxLen {
				return "", ErrLineTooLong
			}

			return string(text), nil
		default:
			return "", fmt.Errorf("receive line: %w", err)
		}
	}
}

// skipLine discards input through the next terminator.
//
// Returns:
//   - ErrLineTooLong once the terminator or the end of the stream is reached,
//     or a wrapped read error
func (r *Reader) skipLine() error {
	for {
		_, err := r.br.ReadSlice(terminator)

		switch {
		case err == nil, errors.Is(err, io.EOF):
			return ErrLineTooLong
		case errors.Is(err, bufio.ErrBufferFull), errors.Is(err, syscall.EINTR):
			continue
		default:
			return fmt.Errorf("receive line: %w", err)
		}
	}
}

func trimTerminator(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == terminator {
		line = line[:n-1]
	}

	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}

	return line
}

// SendLine writes text followed by a single newline to w. The payload is
// written in chunks of at most WriteChunkSize bytes; short writes are resumed
// and EINTR is retried.
//
// Parameters:
//   - w: The stream to write to
//   - text: The line content, without terminator
//
// Returns:
//   - nil once every byte has been written, or a wrapped write error
func SendLine(w io.Writer, text string) error {
	buf := make([]byte, 0, len(text)+1)
	buf = append(buf, text...)
	buf = append(buf, terminator)

	for len(buf) > 0 {
		n := min(len(buf), WriteChunkSize)
		written, err := w.Write(buf[:n])
		if written > 0 {
			buf = buf[written:]
		}

		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}

			return fmt.Errorf("send line: %w", err)
		}

		if written == 0 {
			return fmt.Errorf("send line: %w", io.ErrShortWrite)
		}
	}

	return nil
}

// Writer serializes SendLine calls on one stream so lines written from
// different goroutines never interleave.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer for w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// SendLine writes one line. It is safe for concurrent use.
func (w *Writer) SendLine(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return SendLine(w.w, text)
}

// IsDisconnect reports whether err means the peer went away (orderly close,
// reset, or a connection closed locally) rather than a protocol problem.
func IsDisconnect(err error) bool {
	return errors.Is(err, ErrClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
