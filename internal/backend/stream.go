// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
)

// MaxLineSize bounds a single SSE or NDJSON line.
const MaxLineSize = 1024 * 1024

// LineDecoder turns one line of a streaming body into a fragment. Returning
// done ends the stream without emitting anything for that line. An empty
// fragment with no error means "nothing to emit" and is skipped.
type LineDecoder func(line []byte) (fragment string, done bool, err error)

// =============================================================================
// STREAM
// =============================================================================

// Stream is a lazy, finite, non-restartable sequence of text fragments read
// from a response body. Only one goroutine may call Recv; Close may be called
// from any goroutine.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	reader *bufio.Reader
	decode LineDecoder

	// onDone runs once with the terminal error (nil on clean end).
	onDone func(error)

	err       error
	closeErr  error
	closed    atomic.Bool
	closeOnce sync.Once
	doneOnce  sync.Once
}

// NewStream wraps body. cancel is invoked when the stream ends or is closed
// and may be nil.
func NewStream(ctx context.Context, body io.ReadCloser, decode LineDecoder, cancel context.CancelFunc) *Stream {
	if cancel == nil {
		cancel = func() {}
	}
	return &Stream{
		ctx:    ctx,
		cancel: cancel,
		body:   body,
		reader: bufio.NewReader(body),
		decode: decode,
	}
}

// OnDone registers a hook run once when the stream terminates.
func (s *Stream) OnDone(fn func(error)) {
	s.onDone = fn
}

// Recv returns the next non-empty fragment. It returns io.EOF once the stream
// is exhausted and a *Error on failure; both are sticky.
func (s *Stream) Recv() (string, error) {
	if s.err != nil {
		return "", s.err
	}

	for {
		if s.closed.Load() {
			return "", s.finish(RequestFailed(context.Canceled))
		}

		line, readErr := s.readLine()
		if len(line) > 0 {
			fragment, done, err := s.decode(line)
			if err != nil {
				return "", s.finish(Classify(err))
			}
			if done {
				return "", s.finish(io.EOF)
			}
			if fragment != "" {
				return fragment, nil
			}
		}

		if readErr == io.EOF {
			return "", s.finish(io.EOF)
		}
		if readErr != nil {
			return "", s.finish(s.readError(readErr))
		}
	}
}

// Close stops the stream, closing the body and cancelling the request.
// It is safe to call more than once and concurrently with Recv.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.terminate(RequestFailed(context.Canceled))
	})
	return s.closeErr
}

// All returns the fragments as an iterator. The stream is closed when the
// loop ends, including on break.
func (s *Stream) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.Close()
		for {
			fragment, err := s.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(fragment, nil) {
				return
			}
		}
	}
}

// Collect drains the stream and returns the concatenated text. On error the
// partial text is returned with it.
func Collect(s *Stream) (string, error) {
	var b strings.Builder
	for fragment, err := range s.All() {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(fragment)
	}
	return b.String(), nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// readLine reads one line without its terminator.
func (s *Stream) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := s.reader.ReadLine()
		buf = append(buf, chunk...)
		if len(buf) > MaxLineSize {
			return nil, InvalidResponse(fmt.Sprintf("stream line exceeds %d bytes", MaxLineSize), nil)
		}
		if err != nil {
			return buf, err
		}
		if !isPrefix {
			return buf, nil
		}
	}
}

func (s *Stream) readError(err error) error {
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	if s.closed.Load() {
		return RequestFailed(context.Canceled)
	}
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return RequestFailed(ctxErr)
	}
	return RequestFailed(err)
}

// finish records the terminal error, releases the connection and returns err.
func (s *Stream) finish(err error) error {
	s.err = err
	if err == io.EOF {
		s.terminate(nil)
	} else {
		s.terminate(err)
	}
	return err
}

func (s *Stream) terminate(err error) {
	s.doneOnce.Do(func() {
		s.cancel()
		s.closeErr = s.body.Close()
		if s.onDone != nil {
			s.onDone(err)
		}
	})
}
