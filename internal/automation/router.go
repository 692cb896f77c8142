package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nox/internal/logging"
	"nox/internal/markup"
)

// Answerer runs a query against the instrument named by label.
// *instrument.Registry implements it.
type Answerer interface {
	Invoke(ctx context.Context, label, query string) (string, error)
}

type RouterOptions struct {
	Poll        time.Duration
	Concurrency int
	Logger      *zap.Logger
}

// Router 轮询邮箱，把请求交给 instrument 并写回结果
// Router claims mailbox requests, hands them to the instruments and writes
// the formatted result back.
type Router struct {
	mb     *Mailbox
	answer Answerer
	poll   time.Duration
	limit  int
	logger *zap.Logger
}

func NewRouter(mb *Mailbox, answer Answerer, opts RouterOptions) *Router {
	if opts.Poll <= 0 {
		opts.Poll = 500 * time.Millisecond
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	return &Router{mb: mb, answer: answer, poll: opts.Poll, limit: opts.Concurrency, logger: logging.OrNop(opts.Logger)}
}

// Run services the mailbox until ctx ends. In-flight requests finish
// before Run returns; cancellation is not an error.
func (r *Router) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	timer := time.NewTimer(0)
	defer timer.Stop()

	var runErr error
loop:
	for {
		select {
		case <-gctx.Done():
			break loop
		case <-timer.C:
		}
		for {
			e, ok, err := r.mb.Claim(gctx)
			if err != nil {
				if gctx.Err() != nil {
					break loop
				}
				runErr = err
				break loop
			}
			if !ok {
				break
			}
			g.Go(func() error {
				r.handle(gctx, e)
				return nil
			})
		}
		timer.Reset(r.poll)
	}
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("router: %w", runErr)
	}
	return nil
}

// Drain handles every request pending right now and returns how many it
// processed.
func (r *Router) Drain(ctx context.Context) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	n := 0
	for {
		e, ok, err := r.mb.Claim(gctx)
		if err != nil {
			_ = g.Wait()
			return n, err
		}
		if !ok {
			break
		}
		n++
		g.Go(func() error {
			r.handle(gctx, e)
			return nil
		})
	}
	return n, g.Wait()
}

func (r *Router) handle(ctx context.Context, e Entry) {
	log := r.logger.With(zap.String("request", e.ID), zap.String("label", e.Label), zap.String("session", e.SessionID))
	log.Debug("instrument request claimed")
	// Results are written even when the router is shutting down.
	writeCtx := context.WithoutCancel(ctx)

	answer, err := r.answer.Invoke(ctx, e.Label, e.Query)
	if err != nil {
		log.Warn("instrument request failed", zap.Error(err))
		if ferr := r.mb.Fail(writeCtx, e.ID, err.Error()); ferr != nil {
			log.Warn("record failure", zap.Error(ferr))
		}
		return
	}
	if err := r.mb.Resolve(writeCtx, e.ID, markup.FormatResult(e.Label, answer)); err != nil {
		log.Warn("record result", zap.Error(err))
		return
	}
	log.Info("instrument request resolved")
}
