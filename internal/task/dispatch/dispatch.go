// Package dispatch executes task actions behind a failure boundary.
//
// Execute never panics and never returns an error: collaborator failures,
// panics and timeouts all become an unsuccessful task.Outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"maintd/internal/task"
	logx "maintd/pkg/logx"
)

// Actions is the system-specific collaborator. Implementations return a short
// human message on success.
type Actions interface {
	CleanRAM(ctx context.Context, opt task.RAMOptions) (string, error)
	CleanDisk(ctx context.Context, opt task.DiskOptions) (string, error)
	ToggleDefender(ctx context.Context, opt task.DefenderOptions) (string, error)
}

type Options struct {
	// Timeout bounds one attempt. 0 disables it.
	Timeout time.Duration

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (o Options) withDefaults() Options {
	if o.RetryMax < 0 {
		o.RetryMax = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	return o
}

type Dispatcher struct {
	actions Actions
	log     logx.Logger

	mu  sync.Mutex
	opt Options
	rng *rand.Rand
}

func New(actions Actions, opt Options, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		actions: actions,
		log:     log.With(logx.String("comp", "dispatch")),
		opt:     opt.withDefaults(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetOptions swaps timeout and retry settings; in-flight executions keep the old ones.
func (d *Dispatcher) SetOptions(opt Options) {
	d.mu.Lock()
	d.opt = opt.withDefaults()
	d.mu.Unlock()
}

func (d *Dispatcher) options() Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opt
}

// Execute runs a with retries and converts every failure into an Outcome.
func (d *Dispatcher) Execute(ctx context.Context, a task.Action) task.Outcome {
	if d == nil || d.actions == nil {
		return task.Failed("no action executor configured")
	}
	opt := d.options()

	var (
		msg string
		err error
	)
	maxAttempts := 1 + opt.RetryMax
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		msg, err = d.attempt(ctx, opt, a)
		if err == nil {
			break
		}
		if IsNoRetry(err) || attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		delay := d.backoff(opt, attempt, err)
		d.log.Debug("action retry scheduled", logx.String("action", string(a.Kind)), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = fmt.Errorf("%w (retry aborted: %v)", err, ctx.Err())
			break attemptLoop
		case <-tmr.C:
		}
	}

	if err != nil {
		return task.Failed(errorMessage(err))
	}
	if strings.TrimSpace(msg) == "" {
		msg = "ok"
	}
	return task.Succeeded(msg)
}

func (d *Dispatcher) attempt(ctx context.Context, opt Options, a task.Action) (msg string, err error) {
	runCtx := ctx
	if opt.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opt.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("action.panic", logx.String("action", string(a.Kind)), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			msg, err = "", NoRetry(fmt.Errorf("panic: %v", r))
		}
	}()

	switch a.Kind {
	case task.ActionCleanRAM:
		opt := task.RAMOptions{}
		if a.RAM != nil {
			opt = *a.RAM
		}
		msg, err = d.actions.CleanRAM(runCtx, opt)
	case task.ActionCleanDisk:
		if a.Disk == nil {
			return "", NoRetry(errors.New("clean_disk action without disk options"))
		}
		msg, err = d.actions.CleanDisk(runCtx, *a.Disk)
	case task.ActionToggleDefender:
		if a.Defender == nil {
			return "", NoRetry(errors.New("toggle_defender action without options"))
		}
		msg, err = d.actions.ToggleDefender(runCtx, *a.Defender)
	default:
		return "", NoRetry(fmt.Errorf("unknown action kind %q", a.Kind))
	}
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("timed out after %s: %w", opt.Timeout, err)
	}
	return msg, err
}

func (d *Dispatcher) backoff(opt Options, attempt int, err error) time.Duration {
	var ra RetryAfterError
	delay := opt.RetryBase
	if errors.As(err, &ra) {
		delay = ra.RetryAfter()
	} else {
		for i := 1; i < attempt && delay < opt.RetryMaxDelay; i++ {
			delay *= 2
		}
	}
	d.mu.Lock()
	r := (d.rng.Float64()*2 - 1) * opt.RetryJitter
	d.mu.Unlock()
	delay = time.Duration(float64(delay) * (1 + r))
	if delay < 0 {
		delay = 0
	}
	if delay > opt.RetryMaxDelay {
		delay = opt.RetryMaxDelay
	}
	return delay
}

func errorMessage(err error) string {
	var nr noRetryError
	if errors.As(err, &nr) {
		err = nr.err
	}
	var ra retryAfterError
	if errors.As(err, &ra) {
		err = ra.err
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "action failed"
	}
	return msg
}
