package sse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultRetry is used until the server advertises its own delay.
const DefaultRetry = 3 * time.Second

// Opener opens the stream body, resuming after lastEventID when non-empty.
type Opener func(ctx context.Context, lastEventID string) (io.ReadCloser, error)

// StreamOptions configures a Stream.
type StreamOptions struct {
	// LastEventID seeds the first connection.
	LastEventID string
	// Retry overrides DefaultRetry until the server sends retry:.
	Retry time.Duration
	// Fatal reports errors that must stop reconnecting, e.g. 401.
	Fatal  func(error) bool
	Logger *slog.Logger
}

// Stream keeps an event stream open. Connection errors are logged and the
// stream is reopened after the retry delay with a fixed cadence, the way a
// browser EventSource behaves.
type Stream struct {
	open   Opener
	fatal  func(error) bool
	logger *slog.Logger

	mu     sync.Mutex
	lastID string
	retry  time.Duration
}

// NewStream creates a stream; nothing is opened until Run.
func NewStream(open Opener, opts StreamOptions) *Stream {
	if opts.Retry <= 0 {
		opts.Retry = DefaultRetry
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Fatal == nil {
		opts.Fatal = func(error) bool { return false }
	}
	return &Stream{
		open:   open,
		fatal:  opts.Fatal,
		logger: opts.Logger.With("component", "sse_stream"),
		lastID: opts.LastEventID,
		retry:  opts.Retry,
	}
}

// LastEventID returns the resume point the next connection will send.
func (s *Stream) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// Run delivers events to handle until ctx is cancelled or a fatal error
// occurs. handle runs on the Run goroutine. The returned error is ctx.Err()
// or the fatal error.
func (s *Stream) Run(ctx context.Context, handle func(Event)) error {
	for {
		err := s.connect(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && s.fatal(err) {
			s.logger.Error("notification stream stopped", "error", err)
			return err
		}

		delay := s.retryDelay()
		if err != nil {
			s.logger.Warn("stream error, reconnecting", "error", err, "retry_in", delay)
		} else {
			s.logger.Info("stream closed by server, reconnecting", "retry_in", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Stream) connect(ctx context.Context, handle func(Event)) error {
	body, err := s.open(ctx, s.LastEventID())
	if err != nil {
		return err
	}
	defer body.Close()

	// Unblock the read when ctx ends.
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	r := NewReader(body)
	for {
		ev, err := r.Next()
		s.update(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		handle(ev)
	}
}

func (s *Stream) update(r *Reader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id := r.LastEventID(); id != "" {
		s.lastID = id
	}
	if d := r.Retry(); d > 0 {
		s.retry = d
	}
}

func (s *Stream) retryDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry
}
