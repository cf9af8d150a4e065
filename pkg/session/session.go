// Package session owns the connection to one contactless tag.
//
// A Session is opened against a Host, which detects the tag, and exchanges raw APDUs
// with it one at a time. Every exchange runs under its own timeout. The session is
// released with Close exactly once whatever the outcome; With wraps the whole lifecycle
// so that an early return or a panic cannot leave it open.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gregLibert/zairyu-nfc/pkg/carderr"
)

// Tag is a connected contactless card.
// Transmit sends one raw command APDU and returns the raw response with its status word.
type Tag interface {
	Transmit(ctx context.Context, apdu []byte) ([]byte, error)
	Disconnect() error
}

// Host is the platform reader stack: it waits for a tag to be presented.
// DetectTag returns carderr.ErrNoTagDetected when ctx expires without a tag.
type Host interface {
	DetectTag(ctx context.Context) (Tag, error)
}

// CloseReason records why a session was released.
type CloseReason string

const (
	ReasonComplete  CloseReason = "complete"
	ReasonError     CloseReason = "error"
	ReasonCancelled CloseReason = "cancelled"
	ReasonPanic     CloseReason = "panic"
)

// ReasonFor derives the close reason of a session from the outcome of its work.
func ReasonFor(ctx context.Context, err error) CloseReason {
	switch {
	case err == nil:
		return ReasonComplete
	case errors.Is(err, context.Canceled), ctx.Err() != nil:
		return ReasonCancelled
	default:
		return ReasonError
	}
}

// Options bounds the waits of a session.
type Options struct {
	PollTimeout     time.Duration // Wait for a tag in Open, 0 for no limit
	ExchangeTimeout time.Duration // Per Transmit, 0 for no limit
}

// Session is one open connection to a tag.
type Session struct {
	tag  Tag
	opts Options

	mu          sync.Mutex
	exchange    chan struct{} // holds one token while the tag is busy
	invalid     error
	closed      bool
	closeReason CloseReason
	exchanges   int
}

// Open waits for a tag on host and opens a session with it.
func Open(ctx context.Context, host Host, opts Options) (*Session, error) {
	pollCtx := ctx
	if opts.PollTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, opts.PollTimeout)
		defer cancel()
	}

	tag, err := host.DetectTag(pollCtx)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, &carderr.SessionError{Op: "open", Err: ctx.Err()}
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &carderr.SessionError{Op: "open", Err: carderr.ErrNoTagDetected}
		}
		var se *carderr.SessionError
		if errors.As(err, &se) {
			return nil, err
		}
		if errors.Is(err, carderr.ErrNoTagDetected) || errors.Is(err, carderr.ErrTagLost) {
			return nil, &carderr.SessionError{Op: "open", Err: err}
		}
		return nil, &carderr.SessionError{Op: "open", Err: errors.Join(carderr.ErrTransportInterrupted, err)}
	}

	return &Session{tag: tag, opts: opts, exchange: make(chan struct{}, 1)}, nil
}

// Transmit sends one raw APDU and waits for the response.
// Exchanges never overlap: a call first waits for the previous exchange to return, even
// if that one was abandoned on timeout. Failures are *carderr.SessionError; after
// ErrTagLost the session refuses further exchanges.
func (s *Session) Transmit(ctx context.Context, apdu []byte) ([]byte, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}

	// The token is released by the exchange goroutine, not by this call, so that an
	// exchange abandoned on timeout keeps the tag until the transport returns.
	select {
	case s.exchange <- struct{}{}:
	case <-ctx.Done():
		return nil, &carderr.SessionError{Op: "transmit", Err: ctx.Err()}
	}

	// The session may have been closed or invalidated while waiting.
	if err := s.usable(); err != nil {
		<-s.exchange
		return nil, err
	}

	exCtx := ctx
	if s.opts.ExchangeTimeout > 0 {
		var cancel context.CancelFunc
		exCtx, cancel = context.WithTimeout(ctx, s.opts.ExchangeTimeout)
		defer cancel()
	}

	type result struct {
		resp []byte
		err  error
	}
	results := make(chan result, 1)

	s.mu.Lock()
	s.exchanges++
	s.mu.Unlock()

	go func() {
		defer func() { <-s.exchange }()
		resp, err := s.tag.Transmit(exCtx, apdu)
		results <- result{resp, err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			return nil, s.fail(ctx, r.err)
		}
		return r.resp, nil
	case <-exCtx.Done():
		return nil, s.fail(ctx, exCtx.Err())
	}
}

func (s *Session) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &carderr.SessionError{Op: "transmit", Err: carderr.ErrSessionClosed}
	}
	if s.invalid != nil {
		return &carderr.SessionError{Op: "transmit", Err: s.invalid}
	}
	return nil
}

// fail classifies a transport error, invalidating the session when the tag is gone.
func (s *Session) fail(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return &carderr.SessionError{Op: "transmit", Err: ctx.Err()}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, carderr.ErrTimeout):
		return &carderr.SessionError{Op: "transmit", Err: carderr.ErrTimeout}
	case errors.Is(err, carderr.ErrTagLost):
		s.Invalidate(carderr.ErrTagLost)
		return &carderr.SessionError{Op: "transmit", Err: carderr.ErrTagLost}
	case errors.Is(err, carderr.ErrTransportInterrupted):
		return &carderr.SessionError{Op: "transmit", Err: err}
	default:
		return &carderr.SessionError{Op: "transmit", Err: errors.Join(carderr.ErrTransportInterrupted, err)}
	}
}

// Invalidate marks the session unusable; later Transmit calls fail with err.
// It does not release the tag: Close still has to be called.
func (s *Session) Invalidate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalid == nil {
		s.invalid = err
	}
}

// Close releases the tag. Only the first call disconnects; later calls return nil.
func (s *Session) Close(reason CloseReason) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.closeReason = reason
	s.mu.Unlock()

	if err := s.tag.Disconnect(); err != nil {
		return &carderr.SessionError{Op: "close", Err: err}
	}
	return nil
}

// Closed reports whether Close was called, and with which reason.
func (s *Session) Closed() (bool, CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.closeReason
}

// Exchanges is the number of APDUs sent to the tag so far.
func (s *Session) Exchanges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchanges
}

// With opens a session, runs fn and closes the session on every path, panics included.
// The close reason follows the outcome of fn. A failure to disconnect after fn
// succeeded is ignored: the data already read is complete.
func With(ctx context.Context, host Host, opts Options, fn func(ctx context.Context, s *Session) error) (err error) {
	s, err := Open(ctx, host, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = s.Close(ReasonPanic)
			panic(p)
		}
		_ = s.Close(ReasonFor(ctx, err))
	}()

	return fn(ctx, s)
}
