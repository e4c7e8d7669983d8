package dispatch

import (
	"context"
	"fmt"
	"sync"
)

// queuedCommand pairs an inbound Command with the channel its Result is
// delivered on.
type queuedCommand struct {
	ctx   context.Context
	cmd   Command
	reply chan Result
}

// userQueue is one user's single-consumer command channel: commands for
// the same userId are always handled strictly in arrival order, while
// different users run fully concurrently.
type userQueue struct {
	ch chan queuedCommand
}

// Serializer fans inbound commands out into one bounded queue per userId
// and drains each with exactly one goroutine, guaranteeing per-user
// ordering without a global lock.
//
// Each drain goroutine runs for the Serializer's own lifetime, not any
// single caller's — it is started against the long-lived ctx passed to
// NewSerializer, never against a Submit call's request-scoped ctx. A
// drain goroutine tied to the first caller's ctx would die the moment
// that request ended (or its deadline middleware fired), permanently
// orphaning every later command for that user.
type Serializer struct {
	ctx context.Context

	handle func(ctx context.Context, cmd Command) Result

	queueDepth int

	mu     sync.Mutex
	queues map[string]*userQueue
}

// NewSerializer creates a Serializer bound to ctx, which governs every
// per-user drain goroutine's lifetime — callers should pass a background
// context that lives for the process's lifetime, not a request context.
// queueDepth bounds each user's pending command backlog; Submit returns a
// PreconditionError once a user's queue is full instead of blocking
// indefinitely.
func NewSerializer(ctx context.Context, queueDepth int, handle func(ctx context.Context, cmd Command) Result) *Serializer {
	if queueDepth <= 0 {
		queueDepth = 32
	}
	return &Serializer{
		ctx:        ctx,
		handle:     handle,
		queueDepth: queueDepth,
		queues:     make(map[string]*userQueue),
	}
}

func (s *Serializer) queueFor(userID string) *userQueue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queues[userID]; ok {
		return q
	}

	q := &userQueue{ch: make(chan queuedCommand, s.queueDepth)}
	s.queues[userID] = q
	go s.drain(q)
	return q
}

func (s *Serializer) drain(q *userQueue) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case item, ok := <-q.ch:
			if !ok {
				return
			}
			item.reply <- s.handle(item.ctx, item.cmd)
		}
	}
}

// Submit enqueues cmd for its user and blocks until the command has been
// handled (or ctx is canceled). Returns a PreconditionError immediately if
// the user's queue is already at capacity. ctx governs only this one
// command's handling, not the user's drain goroutine.
func (s *Serializer) Submit(ctx context.Context, cmd Command) (Result, error) {
	if cmd.UserID == "" {
		return Result{}, &ValidationError{"userId is required"}
	}

	q := s.queueFor(cmd.UserID)
	reply := make(chan Result, 1)

	select {
	case q.ch <- queuedCommand{ctx: ctx, cmd: cmd, reply: reply}:
	default:
		return Result{}, &PreconditionError{fmt.Sprintf("command queue full for user %s", cmd.UserID)}
	}

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
