package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseWait = 2 * time.Second
	rateLimitFactor = 4
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("empty response from model")

type RetryOptions struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseWait is the first backoff interval; it doubles after every retry.
	BaseWait time.Duration
	// CallTimeout bounds each attempt. 0 disables the per-call timeout.
	CallTimeout time.Duration
	Throttle    *Throttle
	Logger      *zap.Logger
}

// Retrying wraps a Client with a per-call timeout, the shared throttle and
// bounded retries with exponential backoff. Rate-limit failures back off
// longer than other transient failures.
type Retrying struct {
	next Client
	opts RetryOptions
}

func WithRetry(next Client, opts RetryOptions) *Retrying {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseWait <= 0 {
		opts.BaseWait = defaultBaseWait
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Retrying{next: next, opts: opts}
}

func (r *Retrying) Invoke(ctx context.Context, req Request) (string, error) {
	resp, err := r.attempt(ctx, req)
	if err == nil {
		return resp, nil
	}
	return r.retry(ctx, req, err)
}

func (r *Retrying) attempt(ctx context.Context, req Request) (string, error) {
	if err := r.opts.Throttle.Wait(ctx); err != nil {
		return "", err
	}

	callCtx := ctx
	if r.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()
	}

	resp, err := r.next.Invoke(callCtx, req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("llm call timed out after %v: %w", r.opts.CallTimeout, err)
		}
		return "", err
	}
	if strings.TrimSpace(resp) == "" {
		return "", ErrEmptyResponse
	}
	return resp, nil
}

// retry re-attempts a failed call up to MaxRetries times.
func (r *Retrying) retry(ctx context.Context, req Request, lastErr error) (string, error) {
	wait := r.opts.BaseWait
	for attempt := 1; attempt <= r.opts.MaxRetries; attempt++ {
		if !retryable(ctx, lastErr) {
			break
		}
		delay := wait
		if IsRateLimitError(lastErr) {
			delay = wait * rateLimitFactor
		}
		r.opts.Logger.Warn("llm call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", r.opts.MaxRetries),
			zap.Duration("wait", delay),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}

		resp, err := r.attempt(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		wait *= 2
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return "", fmt.Errorf("llm call failed after %d retries: %w", r.opts.MaxRetries, lastErr)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var maxRounds *MaxRoundsError
	return !errors.As(err, &maxRounds)
}
