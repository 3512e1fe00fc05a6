// Package runner drives one VM on a dedicated goroutine, switching between
// stored programs on request and falling back to the idle program when the
// current one ends, faults or runs out of steps.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"ledvm/pkg/asm"
	"ledvm/pkg/store"
	"ledvm/pkg/vm"
)

var log = commonlog.GetLogger("ledvm.runner")

// ErrStepBudget ends a run that reached MaxSteps instructions.
var ErrStepBudget = errors.New("step budget exhausted")

// ErrStopped is returned by Do once Run has returned.
var ErrStopped = errors.New("runner stopped")

// IdleSource is the built-in idle program: blank the strip, then wait.
const IdleSource = `
idle:
    PUSHB 0
    set_all_pixels
    show
    PUSHB 250
    sleep
    JMP idle
`

// InstallIdle assembles source (IdleSource when empty) and stores it as the
// locked idle program.
func InstallIdle(s *store.Store, source string) error {
	if source == "" {
		source = IdleSource
	}
	code, _, err := asm.Assemble(source)
	if err != nil {
		return fmt.Errorf("idle program: %w", err)
	}
	return s.PutLocked(store.IdleProgram, code)
}

type Options struct {
	// StepBudget is the number of instructions per slice. Requests and
	// cancellation are only observed between slices.
	StepBudget int
	// MaxSteps bounds a whole run of any program except idle: the run is
	// stopped once it has executed MaxSteps instructions. Zero means
	// unlimited.
	MaxSteps   uint64
	StackLimit int
	// Tick is the pause between slices.
	Tick  time.Duration
	Debug bool
}

const defaultStepBudget = 10000

type Status struct {
	Program   string    `json:"program"`
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	PC        int       `json:"pc"`
	Depth     int       `json:"depth"`
	Steps     uint64    `json:"steps"`
	Started   time.Time `json:"started"`
	LastFault string    `json:"last_fault,omitempty"`
}

// request is a unit of work run on the runner goroutine between slices.
type request struct {
	fn   func(*vm.VM) (any, error)
	done chan result
}

type result struct {
	value any
	err   error
}

type Runner struct {
	store  *store.Store
	bridge *Bridge
	vm     *vm.VM
	opts   Options

	requests chan request
	pending  atomic.Int32
	quit     chan struct{}

	mu     sync.RWMutex
	status Status
}

func New(s *store.Store, b *Bridge, opts Options) *Runner {
	if opts.StepBudget <= 0 {
		opts.StepBudget = defaultStepBudget
	}
	r := &Runner{
		store:    s,
		bridge:   b,
		opts:     opts,
		requests: make(chan request, 16),
		quit:     make(chan struct{}),
	}
	r.vm = vm.New(b, vm.WithDebug(opts.Debug), vm.WithStackLimit(opts.StackLimit))
	return r
}

// Run drives the VM until ctx is cancelled. It must be called once.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.quit)
	stop := context.AfterFunc(ctx, r.bridge.Interrupt)
	defer stop()
	r.load(store.IdleProgram)

	for {
		if err := ctx.Err(); err != nil {
			r.shutdown()
			return err
		}
		r.serve()

		switch r.vm.State() {
		case vm.Halted, vm.Faulted:
			if r.currentName() != store.IdleProgram {
				r.load(store.IdleProgram)
				continue
			}
			// Idle itself ended: wait for a request.
			select {
			case req := <-r.requests:
				r.pending.Add(-1)
				r.execute(req)
			case <-ctx.Done():
			}
			continue
		}

		r.slice(ctx)

		if r.opts.Tick > 0 {
			t := time.NewTimer(r.opts.Tick)
			select {
			case <-t.C:
			case req := <-r.requests:
				r.pending.Add(-1)
				r.execute(req)
			case <-ctx.Done():
			}
			t.Stop()
		}
	}
}

// slice executes up to StepBudget instructions. It ends early when a request
// is pending or ctx is done.
func (r *Runner) slice(ctx context.Context) {
	limited := r.opts.MaxSteps > 0 && r.currentName() != store.IdleProgram
	err := r.protect(func() error {
		for i := 0; i < r.opts.StepBudget; i++ {
			if err := r.vm.Step(); err != nil {
				return err
			}
			if r.vm.State() != vm.Running {
				return nil
			}
			if limited && r.vm.Steps() >= r.opts.MaxSteps {
				return fmt.Errorf("%w after %d steps", ErrStepBudget, r.vm.Steps())
			}
			if r.pending.Load() > 0 || ctx.Err() != nil {
				return nil
			}
		}
		return nil
	})
	r.update(err)

	if err != nil {
		log.Errorf("program %q stopped: %v", r.currentName(), err)
		if r.currentName() != store.IdleProgram {
			r.load(store.IdleProgram)
		}
	}
}

// protect turns a panic in host code into an error.
func (r *Runner) protect(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("host panic: %v", p)
		}
	}()
	return fn()
}

func (r *Runner) load(name string) {
	prog, err := r.store.Program(name)
	if err != nil {
		log.Errorf("loading %q: %v", name, err)
		if name == store.IdleProgram {
			prog = &vm.Program{Name: store.IdleProgram}
		} else {
			r.load(store.IdleProgram)
			return
		}
	}
	r.loadProgram(prog)
}

func (r *Runner) loadProgram(prog *vm.Program) {
	r.bridge.reopen()
	r.vm.Load(prog)

	id := uuid.New().String()
	r.mu.Lock()
	r.status = Status{
		Program:   prog.Name,
		RunID:     id,
		State:     r.vm.State().String(),
		Started:   time.Now(),
		LastFault: r.status.LastFault,
	}
	r.mu.Unlock()
	log.Infof("running %q (%d bytes, run %s)", prog.Name, len(prog.Code), id)
}

func (r *Runner) update(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.State = r.vm.State().String()
	r.status.PC = r.vm.PC()
	r.status.Depth = r.vm.Depth()
	r.status.Steps = r.vm.Steps()
	if err != nil {
		r.status.LastFault = err.Error()
	}
}

func (r *Runner) shutdown() {
	if err := r.vm.Terminate(); err != nil {
		log.Warningf("shutdown: %v", err)
	}
	r.update(nil)
	r.failPending()
}

// serve runs every queued request.
func (r *Runner) serve() {
	for {
		select {
		case req := <-r.requests:
			r.pending.Add(-1)
			r.execute(req)
		default:
			r.bridge.clearInterrupt()
			return
		}
	}
}

func (r *Runner) failPending() {
	for {
		select {
		case req := <-r.requests:
			r.pending.Add(-1)
			req.done <- result{err: ErrStopped}
		default:
			return
		}
	}
}

func (r *Runner) execute(req request) {
	var res result
	res.err = r.protect(func() error {
		var err error
		res.value, err = req.fn(r.vm)
		return err
	})
	r.update(nil)
	req.done <- res
}

// Do runs fn on the runner goroutine between slices and waits for it. A
// sleeping program is woken so the request is served promptly.
func (r *Runner) Do(ctx context.Context, fn func(*vm.VM) (any, error)) (any, error) {
	select {
	case <-r.quit:
		return nil, ErrStopped
	default:
	}

	req := request{fn: fn, done: make(chan result, 1)}
	r.pending.Add(1)
	select {
	case r.requests <- req:
	case <-r.quit:
		r.pending.Add(-1)
		return nil, ErrStopped
	case <-ctx.Done():
		r.pending.Add(-1)
		return nil, ctx.Err()
	}
	r.bridge.Interrupt()

	select {
	case res := <-req.done:
		// The request may have been served before the wake-up was taken.
		// Drop it so the next sleep runs its full length.
		if r.pending.Load() == 0 {
			r.bridge.clearInterrupt()
		}
		return res.value, res.err
	case <-r.quit:
		select {
		case res := <-req.done:
			return res.value, res.err
		default:
			return nil, ErrStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Switch replaces the running program with the stored program name.
func (r *Runner) Switch(ctx context.Context, name string) error {
	prog, err := r.store.Program(name)
	if err != nil {
		return err
	}
	_, err = r.Do(ctx, func(*vm.VM) (any, error) {
		r.loadProgram(prog)
		return nil, nil
	})
	return err
}

// Snapshot returns the VM state as seen between slices.
func (r *Runner) Snapshot(ctx context.Context) (vm.Snapshot, error) {
	v, err := r.Do(ctx, func(m *vm.VM) (any, error) {
		return m.Snapshot(), nil
	})
	if err != nil {
		return vm.Snapshot{}, err
	}
	return v.(vm.Snapshot), nil
}

func (r *Runner) currentName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status.Program
}

// Current returns the name of the running program.
func (r *Runner) Current() string {
	return r.currentName()
}

func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

type interrupter interface {
	Interrupt()
}

// ctxHost cuts sleeps short when ctx is done, for hosts that cannot be
// interrupted. The host's own Sleep finishes in the background.
type ctxHost struct {
	vm.Host
	ctx context.Context
}

func (h ctxHost) Sleep(d time.Duration) {
	done := make(chan struct{})
	go func() {
		h.Host.Sleep(d)
		close(done)
	}()
	select {
	case <-done:
	case <-h.ctx.Done():
	}
}

// RunProgram runs prog to completion on host, in slices of opts.StepBudget
// steps. Cancelling ctx ends the run, including one blocked in sleep. It
// returns the final VM so callers can inspect the stack, and ErrStepBudget
// once opts.MaxSteps instructions have run.
func RunProgram(ctx context.Context, host vm.Host, prog *vm.Program, opts Options, vmOpts ...vm.Option) (*vm.VM, error) {
	if opts.StepBudget <= 0 {
		opts.StepBudget = defaultStepBudget
	}
	vmOpts = append([]vm.Option{vm.WithDebug(opts.Debug), vm.WithStackLimit(opts.StackLimit)}, vmOpts...)
	switch h := host.(type) {
	case nil:
	case interrupter:
		stop := context.AfterFunc(ctx, h.Interrupt)
		defer stop()
	default:
		host = ctxHost{Host: host, ctx: ctx}
	}
	m := vm.New(host, vmOpts...)
	m.Load(prog)

	for {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		for i := 0; i < opts.StepBudget; i++ {
			if err := m.Step(); err != nil {
				return m, err
			}
			if err := ctx.Err(); err != nil {
				return m, err
			}
			if m.State() != vm.Running {
				return m, nil
			}
			if opts.MaxSteps > 0 && m.Steps() >= opts.MaxSteps {
				return m, fmt.Errorf("%w after %d steps", ErrStepBudget, m.Steps())
			}
		}
	}
}
