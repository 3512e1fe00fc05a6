package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ledvm/pkg/asm"
	"ledvm/pkg/pixels"
	"ledvm/pkg/store"
	"ledvm/pkg/vm"
)

func assemble(t *testing.T, src string) []byte {
	t.Helper()
	code, _, err := asm.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return code
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type harness struct {
	store  *store.Store
	strip  *pixels.Strip
	runner *Runner
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

func start(t *testing.T, opts Options, programs map[string]string) *harness {
	t.Helper()
	s := store.New(0)
	if err := InstallIdle(s, ""); err != nil {
		t.Fatalf("InstallIdle: %v", err)
	}
	for name, src := range programs {
		if err := s.Put(name, assemble(t, src)); err != nil {
			t.Fatalf("Put(%q): %v", name, err)
		}
	}

	strip := pixels.New(8)
	r := New(s, NewBridge(strip, 1), opts)
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{store: s, strip: strip, runner: r, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- r.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}

const fillRed = `
    PUSHW 0x0000FF
    set_all_pixels
    show
loop:
    PUSHB 5
    sleep
    JMP loop
`

func TestBridgeSleepInterrupt(t *testing.T) {
	b := NewBridge(pixels.New(1), 1)
	b.Interrupt()
	b.Interrupt()

	start := time.Now()
	b.Sleep(time.Hour)
	if time.Since(start) > time.Second {
		t.Fatal("Sleep was not interrupted")
	}

	b.clearInterrupt()
	start = time.Now()
	b.Sleep(10 * time.Millisecond)
	if time.Since(start) < 10*time.Millisecond {
		t.Error("Sleep returned early without an interrupt")
	}
}

func TestBridgeRandomIsSeeded(t *testing.T) {
	a := NewBridge(pixels.New(1), 7)
	b := NewBridge(pixels.New(1), 7)
	for i := 0; i < 10; i++ {
		x, y := a.RandomInt(), b.RandomInt()
		if x != y {
			t.Fatalf("draw %d: %d != %d", i, x, y)
		}
		if x < 0 {
			t.Fatalf("draw %d negative: %d", i, x)
		}
	}
}

func TestBridgeClock(t *testing.T) {
	b := NewBridge(pixels.New(1), 1)
	fixed := time.Unix(1700000000, 0)
	b.Clock = func() time.Time { return fixed }
	if !b.Now().Equal(fixed) {
		t.Errorf("Now() = %v; want %v", b.Now(), fixed)
	}
}

func TestInstallIdle(t *testing.T) {
	s := store.New(0)
	if err := InstallIdle(s, ""); err != nil {
		t.Fatalf("InstallIdle: %v", err)
	}
	e, err := s.Get(store.IdleProgram)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !e.Locked || len(e.Code) == 0 {
		t.Errorf("idle entry = %+v", e)
	}
	if err := s.Put(store.IdleProgram, []byte{0xFA}); !errors.Is(err, store.ErrLocked) {
		t.Errorf("Put(idle) error = %v; want ErrLocked", err)
	}

	if err := InstallIdle(store.New(0), "PUSHB"); !errors.Is(err, asm.ErrMissingOperand) {
		t.Errorf("InstallIdle(bad) error = %v; want ErrMissingOperand", err)
	}
}

func TestRunProgram(t *testing.T) {
	prog := &vm.Program{Name: "sum", Code: assemble(t, "PUSHB 3\nPUSHB 4\nADD")}
	m, err := RunProgram(context.Background(), NewBridge(pixels.New(4), 1), prog, Options{StepBudget: 1})
	if err != nil {
		t.Fatalf("RunProgram: %v", err)
	}
	top, ok := m.Top()
	if !ok || top.Int() != 7 {
		t.Errorf("top = %v, %v; want 7", top, ok)
	}
	if m.State() != vm.Halted {
		t.Errorf("state = %v; want halted", m.State())
	}
}

func TestRunProgramStepBudget(t *testing.T) {
	prog := &vm.Program{Name: "spin", Code: assemble(t, "loop: PUSHB 1\nJNZ loop")}
	m, err := RunProgram(context.Background(), NewBridge(pixels.New(4), 1), prog, Options{StepBudget: 7, MaxSteps: 100})
	if !errors.Is(err, ErrStepBudget) {
		t.Fatalf("error = %v; want ErrStepBudget", err)
	}
	if m.Steps() != 100 {
		t.Errorf("Steps() = %d; want 100", m.Steps())
	}
}

func TestRunProgramFault(t *testing.T) {
	prog := &vm.Program{Name: "bad", Code: assemble(t, "PUSHB 1\nADD")}
	_, err := RunProgram(context.Background(), NewBridge(pixels.New(4), 1), prog, Options{})
	if !errors.Is(err, vm.StackUnderflow) {
		t.Fatalf("error = %v; want StackUnderflow", err)
	}
}

func TestRunProgramCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	prog := &vm.Program{Name: "spin", Code: assemble(t, "loop: JMP loop")}
	if _, err := RunProgram(ctx, NewBridge(pixels.New(4), 1), prog, Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v; want context.Canceled", err)
	}
}

// bareHost hides the Bridge's Interrupt method.
type bareHost struct{ vm.Host }

func TestRunProgramCancelledDuringSleep(t *testing.T) {
	tests := []struct {
		name string
		host func() vm.Host
	}{
		{"Bridge", func() vm.Host { return NewBridge(pixels.New(4), 1) }},
		{"Plain Host", func() vm.Host { return bareHost{NewBridge(pixels.New(4), 1)} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			prog := &vm.Program{Name: "nap", Code: assemble(t, "loop: PUSHW 5000\nsleep\nJMP loop")}
			time.AfterFunc(50*time.Millisecond, cancel)

			begin := time.Now()
			_, err := RunProgram(ctx, tc.host(), prog, Options{})
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("error = %v; want context.Canceled", err)
			}
			if took := time.Since(begin); took > time.Second {
				t.Errorf("RunProgram returned after %v; want well under the 5s sleep", took)
			}
		})
	}
}

func TestRunnerStartsIdle(t *testing.T) {
	h := start(t, Options{}, nil)
	waitFor(t, "idle frame", func() bool { return h.strip.Frames() > 0 })
	if got := h.runner.Current(); got != store.IdleProgram {
		t.Errorf("Current() = %q; want idle", got)
	}
	if st := h.runner.Status(); st.RunID == "" || st.Started.IsZero() {
		t.Errorf("Status() = %+v", st)
	}
}

func TestRunnerSwitch(t *testing.T) {
	h := start(t, Options{}, map[string]string{"red": fillRed})
	before := h.runner.Status().RunID

	if err := h.runner.Switch(context.Background(), "red"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if got := h.runner.Current(); got != "red" {
		t.Fatalf("Current() = %q; want red", got)
	}
	if h.runner.Status().RunID == before {
		t.Error("RunID did not change on switch")
	}
	waitFor(t, "red frame", func() bool {
		return h.strip.Frame()[0] == pixels.Red
	})

	snap, err := h.runner.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Program != "red" {
		t.Errorf("Snapshot().Program = %q; want red", snap.Program)
	}
}

func TestRunnerSwitchMissing(t *testing.T) {
	h := start(t, Options{}, nil)
	if err := h.runner.Switch(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Switch error = %v; want ErrNotFound", err)
	}
}

func TestRunnerFallback(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		opts  Options
		fault string
	}{
		{"Fault", "PUSHB 1\nADD", Options{}, "stack underflow"},
		{"Step Budget", "loop: PUSHB 1\nJNZ loop", Options{StepBudget: 50, MaxSteps: 500}, "step budget"},
		{"Exit", "PUSHW 0xFFFFFF\nset_all_pixels\nshow\nexit", Options{}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := start(t, tc.opts, map[string]string{"prog": tc.src})
			if err := h.runner.Switch(context.Background(), "prog"); err != nil {
				t.Fatalf("Switch: %v", err)
			}
			waitFor(t, "fallback to idle", func() bool {
				return h.runner.Current() == store.IdleProgram
			})
			st := h.runner.Status()
			switch {
			case tc.fault == "" && st.LastFault != "":
				t.Errorf("LastFault = %q; want none", st.LastFault)
			case !strings.Contains(st.LastFault, tc.fault):
				t.Errorf("LastFault = %q; want it to contain %q", st.LastFault, tc.fault)
			}
			if h.strip.Closed() {
				t.Error("strip still closed after fallback")
			}
		})
	}
}

func TestRunnerStopsDuringSleep(t *testing.T) {
	h := start(t, Options{}, map[string]string{"nap": "loop: PUSHW 5000\nsleep\nJMP loop"})
	if err := h.runner.Switch(context.Background(), "nap"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		h.stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return within 1s of cancellation")
	}
}

func TestRunnerRequestLeavesNoWakeup(t *testing.T) {
	h := start(t, Options{}, map[string]string{"red": fillRed})
	if err := h.runner.Switch(context.Background(), "red"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if _, err := h.runner.Snapshot(context.Background()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if n := len(h.runner.bridge.wake); n != 0 {
		t.Errorf("%d wake-up(s) left after requests; the next sleep would be cut short", n)
	}
}

func TestRunnerStepBudgetIsExact(t *testing.T) {
	h := start(t, Options{StepBudget: 7, MaxSteps: 100}, map[string]string{"spin": "loop: PUSHB 1\nJNZ loop"})
	if err := h.runner.Switch(context.Background(), "spin"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	waitFor(t, "fallback to idle", func() bool {
		return h.runner.Current() == store.IdleProgram
	})
	if got := h.runner.Status().LastFault; !strings.Contains(got, "after 100 steps") {
		t.Errorf("LastFault = %q; want the run stopped after 100 steps", got)
	}
}

func TestRunnerDoAfterStop(t *testing.T) {
	h := start(t, Options{}, nil)
	h.stop()
	if _, err := h.runner.Do(context.Background(), func(*vm.VM) (any, error) { return nil, nil }); !errors.Is(err, ErrStopped) {
		t.Fatalf("Do error = %v; want ErrStopped", err)
	}
}

func TestRunnerDoRecoversPanic(t *testing.T) {
	h := start(t, Options{}, nil)
	_, err := h.runner.Do(context.Background(), func(*vm.VM) (any, error) { panic("boom") })
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Do error = %v; want panic message", err)
	}
}
