package controller

import (
	"context"
	"sync"
)

// Gate is a one-shot latch ordering the connector start after its tunnel's
// provisioning. Released exactly once, on terminal success only; a failed
// provisioning run leaves the gate closed so the connector never starts
// with a missing or stale token.
type Gate struct {
	once sync.Once
	ch   chan struct{}
}

// NewGate returns a closed gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Release opens the gate. Safe to call more than once.
func (g *Gate) Release() {
	g.once.Do(func() {
		close(g.ch)
	})
}

// Released reports whether the gate has been opened.
func (g *Gate) Released() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate opens or the context is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
