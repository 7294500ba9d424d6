package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"maintd/internal/task"
	logx "maintd/pkg/logx"
)

type fakeActions struct {
	ramCalls  atomic.Int32
	ramErrs   []error
	diskMsg   string
	panicDisk bool
	defender  func(ctx context.Context, opt task.DefenderOptions) (string, error)
}

func (f *fakeActions) CleanRAM(ctx context.Context, opt task.RAMOptions) (string, error) {
	n := int(f.ramCalls.Add(1))
	if n <= len(f.ramErrs) {
		return "", f.ramErrs[n-1]
	}
	return "freed", nil
}

func (f *fakeActions) CleanDisk(ctx context.Context, opt task.DiskOptions) (string, error) {
	if f.panicDisk {
		panic("disk exploded")
	}
	return f.diskMsg, nil
}

func (f *fakeActions) ToggleDefender(ctx context.Context, opt task.DefenderOptions) (string, error) {
	if f.defender != nil {
		return f.defender(ctx, opt)
	}
	return "toggled", nil
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	d := New(&fakeActions{}, Options{}, logx.Nop())
	out := d.Execute(context.Background(), task.CleanRAM(task.RAMOptions{}))
	if !out.Success || out.Message != "freed" {
		t.Fatalf("outcome=%+v", out)
	}

	out = d.Execute(context.Background(), task.CleanDisk(task.DiskOptions{Categories: []task.DiskCategory{task.DiskTemp}, ThresholdMB: 50}))
	if !out.Success || out.Message != "ok" {
		t.Fatalf("empty message should become ok: %+v", out)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	t.Parallel()

	d := New(&fakeActions{panicDisk: true}, Options{RetryMax: 3, RetryBase: time.Millisecond}, logx.Nop())
	out := d.Execute(context.Background(), task.CleanDisk(task.DiskOptions{Categories: []task.DiskCategory{task.DiskTemp}, ThresholdMB: 50}))
	if out.Success || !strings.Contains(out.Message, "disk exploded") {
		t.Fatalf("outcome=%+v", out)
	}
}

func TestExecuteRetries(t *testing.T) {
	t.Parallel()

	f := &fakeActions{ramErrs: []error{errors.New("busy"), RetryAfter(errors.New("busy again"), time.Millisecond)}}
	d := New(f, Options{RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, logx.Nop())
	out := d.Execute(context.Background(), task.CleanRAM(task.RAMOptions{}))
	if !out.Success {
		t.Fatalf("outcome=%+v", out)
	}
	if got := f.ramCalls.Load(); got != 3 {
		t.Fatalf("calls=%d want 3", got)
	}
}

func TestExecuteNoRetry(t *testing.T) {
	t.Parallel()

	f := &fakeActions{ramErrs: []error{NoRetry(errors.New("permission denied")), nil}}
	d := New(f, Options{RetryMax: 5, RetryBase: time.Millisecond}, logx.Nop())
	out := d.Execute(context.Background(), task.CleanRAM(task.RAMOptions{}))
	if out.Success || out.Message != "permission denied" {
		t.Fatalf("outcome=%+v", out)
	}
	if got := f.ramCalls.Load(); got != 1 {
		t.Fatalf("calls=%d want 1", got)
	}
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()

	f := &fakeActions{defender: func(ctx context.Context, _ task.DefenderOptions) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	d := New(f, Options{Timeout: 10 * time.Millisecond}, logx.Nop())
	out := d.Execute(context.Background(), task.ToggleDefender(true, false))
	if out.Success || !strings.Contains(out.Message, "timed out") {
		t.Fatalf("outcome=%+v", out)
	}
}

func TestExecuteUnknownKind(t *testing.T) {
	t.Parallel()

	d := New(&fakeActions{}, Options{}, logx.Nop())
	out := d.Execute(context.Background(), task.Action{Kind: "reboot"})
	if out.Success {
		t.Fatalf("outcome=%+v", out)
	}
	if out := (*Dispatcher)(nil).Execute(context.Background(), task.CleanRAM(task.RAMOptions{})); out.Success {
		t.Fatal("nil dispatcher must fail")
	}
}
