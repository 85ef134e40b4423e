package evaluator

import (
	"context"
	"errors"
	"net"
	"time"

	"codebundle-score/clierr"
	"codebundle-score/logger"
	"codebundle-score/rules"
)

// TransientError marks a failure worth retrying (timeouts, 5xx, 429).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// RetryConfig bounds retries. Attempt i (0-based) waits i*Delay first.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// Retrying retries transient failures of next, then falls back. With a nil
// fallback, exhausted retries surface as a COLLABORATOR_ERROR.
type Retrying struct {
	next     rules.TitleEvaluator
	fallback rules.TitleEvaluator
	cfg      RetryConfig
	log      logger.Logger
}

func NewRetrying(next, fallback rules.TitleEvaluator, cfg RetryConfig, log logger.Logger) *Retrying {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	return &Retrying{next: next, fallback: fallback, cfg: cfg, log: log}
}

func (r *Retrying) Name() string { return r.next.Name() }

func (r *Retrying) EvaluateTitle(ctx context.Context, req *rules.TitleRequest) (*rules.TitleVerdict, error) {
	var lastErr error
	for i := 0; i < r.cfg.Attempts; i++ {
		if i > 0 {
			delay := time.NewTimer(time.Duration(i) * r.cfg.Delay)
			select {
			case <-ctx.Done():
				delay.Stop()
				return nil, ctx.Err()
			case <-delay.C:
			}
		}

		v, err := r.next.EvaluateTitle(ctx, req)
		if err == nil {
			if err = v.Validate(); err == nil {
				return v, nil
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !IsTransient(err) {
			break
		}
		r.log.Warn("evaluator.retry",
			logger.String("evaluator", r.next.Name()),
			logger.Int("attempt", i+1),
			logger.Err(err),
		)
	}

	if r.fallback == nil {
		return nil, clierr.Wrap(clierr.CollaboratorError, lastErr, "title evaluator "+r.next.Name()+" failed")
	}
	r.log.Warn("evaluator.fallback",
		logger.String("evaluator", r.next.Name()),
		logger.String("fallback", r.fallback.Name()),
		logger.String("title", req.Title),
		logger.Err(lastErr),
	)
	v, err := r.fallback.EvaluateTitle(ctx, req)
	if err != nil {
		return nil, err
	}
	v.Fallback = true
	return v, nil
}
