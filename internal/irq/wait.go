package irq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/golang/glog"
)

var (
	ErrTimeout          = errors.New("interrupt wait timed out")
	ErrAlreadyInstalled = errors.New("handler already installed")
	ErrNotInstalled     = errors.New("no handler installed")
	ErrSpurious         = errors.New("spurious or repeated interrupt")
)

// Handler runs on the interrupt path for one INTID.
type Handler func(intid uint32)

// Registry maps interrupt IDs to handlers. It is safe for concurrent use;
// Raise is the entry point of the platform interrupt path.
type Registry struct {
	mu       sync.Mutex
	handlers map[uint32]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint32]Handler)}
}

func (r *Registry) Install(intid uint32, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[intid]; ok {
		return fmt.Errorf("%w: intid %d", ErrAlreadyInstalled, intid)
	}
	r.handlers[intid] = h
	return nil
}

func (r *Registry) Free(intid uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[intid]; !ok {
		return fmt.Errorf("%w: intid %d", ErrNotInstalled, intid)
	}
	delete(r.handlers, intid)
	return nil
}

// Raise dispatches intid to its handler. The handler runs without the
// registry lock held so it may free its own line.
func (r *Registry) Raise(intid uint32) error {
	r.mu.Lock()
	h, ok := r.handlers[intid]
	r.mu.Unlock()
	if !ok {
		log.Warningf("irq: intid %d raised with no handler", intid)
		return fmt.Errorf("%w: intid %d", ErrNotInstalled, intid)
	}
	h(intid)
	return nil
}

// Waiter lets a check block until an interrupt is delivered. Arm before
// triggering the interrupt source, then Wait.
type Waiter struct {
	mu    sync.Mutex
	ch    chan struct{}
	armed bool
}

func NewWaiter() *Waiter {
	return &Waiter{ch: make(chan struct{}, 1)}
}

// Arm prepares the waiter for one delivery and drops any stale one.
func (w *Waiter) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ch:
	default:
	}
	w.armed = true
}

// Signal records a delivery. A signal while not armed is reported as
// spurious and dropped.
func (w *Waiter) Signal() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed {
		return ErrSpurious
	}
	w.armed = false
	w.ch <- struct{}{}
	return nil
}

// Handler adapts the waiter for Registry.Install. Spurious deliveries are
// logged.
func (w *Waiter) Handler() Handler {
	return func(intid uint32) {
		if err := w.Signal(); err != nil {
			log.Warningf("irq: intid %d: %v", intid, err)
		}
	}
}

// Wait blocks until the armed delivery arrives, timeout elapses or ctx is
// done. A zero timeout waits on ctx alone.
func (w *Waiter) Wait(ctx context.Context, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-w.ch:
		return nil
	case <-expired:
		w.disarm()
		return ErrTimeout
	case <-ctx.Done():
		w.disarm()
		return ctx.Err()
	}
}

func (w *Waiter) disarm() {
	w.mu.Lock()
	w.armed = false
	w.mu.Unlock()
}
