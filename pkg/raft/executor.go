package raft

// Executor runs closures one at a time, in submission order. It is the
// realization of the serial queue that owns Role, NodeGroup, per-peer
// ReplicatingState, and the cached (term, votedFor): every public entry
// point and every onReceive*/log-event handler submits a closure here
// instead of taking a lock.
type Executor interface {
	// Submit enqueues fn and returns immediately without waiting for it to
	// run.
	Submit(fn func())
	// SubmitWait enqueues fn and blocks until it has run, returning the
	// error fn returns.
	SubmitWait(fn func() error) error
	// Stop shuts the executor down. For chanExecutor, closures still queued
	// or submitted afterwards may never run, and SubmitWait then returns
	// ErrStopped; DirectExecutor's Stop does nothing.
	Stop()
}

// chanExecutor is a single goroutine consuming a buffered channel of
// closures, grounded on the teacher's channel-dispatch style (raft.go's
// applyCh/shutdownC) and on embark-cockroach multiraft's single `ops chan
// interface{}` dispatch loop.
type chanExecutor struct {
	tasks chan func()
	done  chan struct{}
}

func newChanExecutor(queueDepth int) *chanExecutor {
	e := &chanExecutor{
		tasks: make(chan func(), queueDepth),
		done:  make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *chanExecutor) run() {
	for {
		select {
		case fn, ok := <-e.tasks:
			if !ok {
				return
			}
			fn()
		case <-e.done:
			return
		}
	}
}

func (e *chanExecutor) Submit(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.done:
	}
}

func (e *chanExecutor) SubmitWait(fn func() error) error {
	result := make(chan error, 1)
	e.Submit(func() {
		result <- fn()
	})
	select {
	case err := <-result:
		return err
	case <-e.done:
		return ErrStopped
	}
}

func (e *chanExecutor) Stop() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

// DirectExecutor runs every submission synchronously in the caller's
// goroutine: no goroutine interleaving, no timing assumptions. New always
// gives a NodeImpl its own chanExecutors, so a NodeImpl cannot be run on a
// DirectExecutor; callSync and other Executor users can.
type DirectExecutor struct{}

// NewDirectExecutor returns an Executor suitable for deterministic tests.
func NewDirectExecutor() *DirectExecutor { return &DirectExecutor{} }

func (DirectExecutor) Submit(fn func())            { fn() }
func (DirectExecutor) SubmitWait(fn func() error) error { return fn() }
func (DirectExecutor) Stop()                       {}
