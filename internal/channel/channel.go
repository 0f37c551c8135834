// Package channel frames newline-delimited JSON over a duplex byte stream.
//
// A Channel owns the stream it wraps. Incoming lines are parsed by a caller-supplied
// function so the same framing serves any message schema; outgoing values are
// encoded as compact JSON with sorted map keys, one value per line.
package channel

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/mattjoyce/lmcbridge/internal/protocol"
)

// maxLineBytes caps a single incoming record.
const maxLineBytes = 4 * 1024 * 1024

var (
	// ErrClosed is returned by Receive and Send after Close.
	ErrClosed = errors.New("channel closed")

	// ErrLineTooLong is wrapped in a *protocol.DecodeError when a record exceeds maxLineBytes.
	ErrLineTooLong = errors.New("record exceeds maximum line length")
)

// ParseFunc turns one record (without its trailing newline) into a message.
type ParseFunc[T any] func(line []byte) (T, error)

type result[T any] struct {
	msg T
	err error
}

// Channel is a message channel over a duplex stream.
type Channel[T any] struct {
	rwc   io.ReadWriteCloser
	parse ParseFunc[T]

	wmu sync.Mutex

	startOnce sync.Once
	results   chan result[T]
	// finished is closed by the reader once it has stored its terminal error.
	finished chan struct{}
	finalErr error

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// New wraps rwc. The channel takes ownership of rwc and closes it in Close.
func New[T any](rwc io.ReadWriteCloser, parse ParseFunc[T]) *Channel[T] {
	return &Channel[T]{
		rwc:      rwc,
		parse:    parse,
		results:  make(chan result[T]),
		finished: make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// Send encodes v and writes it as one record.
func (c *Channel[T]) Send(v any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.Encode(c.rwc, v)
}

// Receive blocks until the next message is available.
// It returns io.EOF when the stream ends cleanly, the parse error when a record is
// rejected (after which the channel yields that same error forever), ErrClosed after
// Close, or ctx.Err() when ctx is cancelled first.
func (c *Channel[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-c.closed:
		return zero, ErrClosed
	default:
	}
	c.startOnce.Do(func() { go c.readLoop() })

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.closed:
		return zero, ErrClosed
	case r := <-c.results:
		return r.msg, r.err
	case <-c.finished:
		return zero, c.finalErr
	}
}

// Messages returns the incoming messages as a lazy sequence. The sequence stops
// silently at end of stream and yields a non-nil error at most once, as its last element.
func (c *Channel[T]) Messages(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			msg, err := c.Receive(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// Close releases the underlying stream. It is safe to call more than once;
// only the first call has an effect and later calls return its result.
func (c *Channel[T]) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

func (c *Channel[T]) readLoop() {
	reader := bufio.NewReader(c.rwc)
	for {
		line, err := readLine(reader)
		if err != nil {
			c.finish(err)
			return
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		msg, err := c.parse(line)
		if err != nil {
			c.finish(err)
			return
		}

		select {
		case c.results <- result[T]{msg: msg}:
		case <-c.closed:
			return
		}
	}
}

func (c *Channel[T]) finish(err error) {
	select {
	case <-c.closed:
		err = ErrClosed
	default:
	}
	c.finalErr = err
	close(c.finished)
}

func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read from driver process: %w", err)
		}
		buf = append(buf, chunk...)
		if len(buf) > maxLineBytes {
			return nil, &protocol.DecodeError{Err: ErrLineTooLong}
		}
		if !isPrefix {
			return buf, nil
		}
	}
}
