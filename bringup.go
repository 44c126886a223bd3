package bringup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// state represents an Agent's state. It's either:
// 1. waiting to be started (stateIdle),
// 2. executing its sequence (stateRunning),
// 3. finished, successfully or not (stateDone).
type state uint8

const (
	stateIdle state = iota
	stateRunning
	stateDone
)

// Progress is the sequence feedback medium.
// A Progress is reported after every step that completed, carrying the step's 1-based Index. A failing step is
// reported with a non-nil Err and ends the reports. A successful or cancelled sequence ends with a report whose Step
// is nil.
// Progress satisfies the error interface.
type Progress struct {
	Index int
	Step  Step
	Err   error
}

// Error returns the error message for the receiver. Error returns an empty string if there is no error.
func (p Progress) Error() string {
	if p.Err == nil {
		return ""
	}
	return p.Err.Error()
}

// Sequence is a named, immutable, ordered list of Steps.
type Sequence struct {
	name  string
	steps []Step
}

// New returns a Sequence of the given steps. The steps are copied; the Sequence cannot be modified afterwards.
func New(name string, steps ...Step) *Sequence {
	s := make([]Step, len(steps))
	copy(s, steps)
	return &Sequence{name: name, steps: s}
}

// Name returns the name of the sequence.
func (s *Sequence) Name() string {
	return s.name
}

// Len returns the number of steps.
func (s *Sequence) Len() int {
	return len(s.steps)
}

// Steps returns a copy of the steps in order.
func (s *Sequence) Steps() []Step {
	steps := make([]Step, len(s.steps))
	copy(steps, s.steps)
	return steps
}

// String renders the sequence as an OpenOCD script, one command per line.
func (s *Sequence) String() string {
	var b strings.Builder

	for _, st := range s.steps {
		if st == nil {
			continue
		}
		b.WriteString(st.String())
		b.WriteByte('\n')
	}

	return b.String()
}

// Validate checks that the sequence has steps, that none of them is nil and that nothing follows a Shutdown.
// Validate returns an EmptySequenceError or a *SequenceError of kind UnexpectedStepOrder.
func (s *Sequence) Validate() error {
	if s == nil {
		return EmptySequenceError("")
	}
	if len(s.steps) == 0 {
		return EmptySequenceError(s.name)
	}

	shutdown := false
	for i, st := range s.steps {
		switch {
		case st == nil:
			return &SequenceError{Index: i + 1, Kind: UnexpectedStepOrder, Err: errNilStep}
		case shutdown:
			return &SequenceError{Index: i + 1, Step: st, Kind: UnexpectedStepOrder, Err: errAfterShutdown}
		case st.Kind() == KindShutdown:
			shutdown = true
		}
	}

	return nil
}

// Session represents exclusive ownership of a Target. Only one Agent of a Session can run at any time; Agents
// created from different Sessions over the same Target are not coordinated, so share the Session instead.
type Session struct {
	target Target
	sem    *semaphore.Weighted
}

// NewSession returns a Session for the given target.
func NewSession(target Target) *Session {
	if target == nil {
		panic("target cannot be nil")
	}
	return &Session{target: target, sem: semaphore.NewWeighted(1)}
}

// Agent validates seq and returns an Agent that will execute it against the session's target.
func (s *Session) Agent(seq *Sequence, opts ...Option) (*Agent, error) {
	if err := seq.Validate(); err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Agent{
		name:    seq.name,
		steps:   seq.Steps(),
		session: s,
		config:  cfg,
	}, nil
}

// Agent represents one execution of a Sequence. An Agent runs at most once.
type Agent struct {
	sync.Mutex // Controls access to Agent.state.

	name     string
	steps    []Step
	session  *Session
	config   Config
	state    state
	grp      errgroup.Group
	progress chan Progress
}

// Run executes seq against target and blocks until it has finished. It returns nil if every step succeeded, or the
// error of the first step that failed.
func Run(ctx context.Context, seq *Sequence, target Target, opts ...Option) error {
	agent, err := NewSession(target).Agent(seq, opts...)
	if err != nil {
		return err
	}
	if err = agent.Start(ctx); err != nil {
		return err
	}
	return agent.Wait()
}

// StepCount returns the number of steps the Agent will execute.
func (a *Agent) StepCount() int {
	return len(a.steps)
}

// String returns the step kinds in execution order, separated by right-arrows.
func (a *Agent) String() string {
	names := make([]string, len(a.steps))
	for i, st := range a.steps {
		names[i] = st.Kind().String()
	}
	return strings.Join(names, " > ")
}

// Start begins executing the sequence in its own goroutine.
// Start returns an error if the Agent has been started before, or ErrTargetBusy if another Agent of the same Session
// is running.
func (a *Agent) Start(ctx context.Context) error {
	a.Lock()
	defer a.Unlock()

	if a.state != stateIdle {
		msg := inProgressErrorMessage
		if a.state == stateDone {
			msg = doneErrorMessage
		}
		return InvalidStateError(msg)
	}

	if !a.session.sem.TryAcquire(1) {
		return ErrTargetBusy
	}

	a.state = stateRunning
	a.progress = make(chan Progress, len(a.steps)+1)

	a.grp.Go(func() error {
		return a.exec(ctx)
	})
	return nil
}

// Wait blocks until the sequence has finished and returns the error of the failing step, if any.
func (a *Agent) Wait() error {
	a.Lock()
	if a.state == stateIdle {
		a.Unlock()
		return InvalidStateError(notStartedErrorMessage)
	}
	a.Unlock()

	return a.grp.Wait()
}

// Progress returns a channel that receives a Progress for every completed step. The channel is closed when the
// sequence ends. Progress returns nil if the Agent has not been started.
func (a *Agent) Progress() <-chan Progress {
	a.Lock()
	defer a.Unlock()

	return a.progress
}

// report sends the provided Progress on the progress channel and to the progress callback, if any.
// The channel is buffered for every report a run can produce, so report never blocks on it.
func (a *Agent) report(p Progress) {
	if a.config.ProgressCallback != nil {
		a.config.ProgressCallback(p)
	}
	a.progress <- p
}

// exec runs through the sequence step by step. The context is checked before every step; a step that has begun is
// never interrupted by exec itself.
func (a *Agent) exec(ctx context.Context) (err error) {
	defer func() {
		if err != nil && a.config.CloseOnError {
			if cerr := a.session.target.Close(); cerr != nil {
				glog.Warningf("%s: closing target after failure: %v", a.name, cerr)
			}
		}
		a.session.sem.Release(1)

		a.Lock()
		a.state = stateDone
		close(a.progress)
		a.Unlock()
	}()

	start := time.Now()
	glog.V(1).Infof("%s: running %d steps", a.name, len(a.steps))

	for i, st := range a.steps {
		index := i + 1

		if cerr := ctx.Err(); cerr != nil {
			glog.Warningf("%s: cancelled before step %d (%s)", a.name, index, st.Kind())
			err = &SequenceError{Index: index, Step: st, Kind: Cancelled, Err: cerr}
			a.report(Progress{Index: index, Err: err})
			return err
		}

		glog.V(2).Infof("%s: step %d: %s", a.name, index, st)

		if serr := a.execStep(ctx, st); serr != nil {
			err = &SequenceError{Index: index, Step: st, Kind: classify(ctx, st, serr), Err: serr}
			glog.Errorf("%s: %v", a.name, err)
			a.report(Progress{Index: index, Step: st, Err: err})
			return err
		}

		a.report(Progress{Index: index, Step: st})
	}

	glog.Infof("%s: completed %d steps in %s", a.name, len(a.steps), time.Since(start))
	a.report(Progress{Index: len(a.steps)})
	return nil
}

// execStep dispatches a single step to the target.
func (a *Agent) execStep(ctx context.Context, st Step) error {
	t := a.session.target

	switch s := st.(type) {
	case Halt:
		timeout := a.config.HaltTimeout
		if s.Timeout > 0 {
			timeout = s.Timeout
		}
		return t.HaltAndWait(ctx, timeout)
	case SetCoreState:
		return t.SetCoreState(ctx, s.State)
	case WriteMemory:
		return t.WriteWord(ctx, s.Addr, s.Value)
	case Wait:
		if s.Duration <= 0 {
			return nil
		}
		begin := time.Now()
		if err := t.Sleep(ctx, s.Duration); err != nil {
			return err
		}
		// The target may return early; the delay is a lower bound.
		return Sleep(ctx, s.Duration-time.Since(begin))
	case FlashWrite:
		return t.FlashWrite(detached{ctx}, s.Bank, s.Image, s.Offset)
	case Reset:
		return t.Reset(ctx)
	case Shutdown:
		return t.Shutdown(ctx)
	default:
		return errUnknownStep
	}
}

// classify maps the failure of step st to an ErrorKind.
func classify(ctx context.Context, st Step, err error) ErrorKind {
	if errors.Is(err, errUnknownStep) {
		return UnexpectedStepOrder
	}
	if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) && st.Kind() != KindFlashWrite {
		return Cancelled
	}

	switch st.Kind() {
	case KindHalt:
		if errors.Is(err, ErrHaltTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return HaltTimeout
		}
		return Transport
	case KindFlashWrite:
		return FlashProgramming
	default:
		return Transport
	}
}
