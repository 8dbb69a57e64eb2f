package raffle

import "context"

type guardKey struct{}

// guard serializes every state-mutating entry point of a Service. Calls made
// from inside a collaborator while the guard is held carry the guard's marker
// in their context and are rejected instead of deadlocking.
type guard struct {
	sem chan struct{}
}

func newGuard() *guard {
	return &guard{sem: make(chan struct{}, 1)}
}

// acquire blocks until the guard is free or ctx is done. The returned context
// must be passed to every collaborator invoked while the guard is held.
func (g *guard) acquire(ctx context.Context) (context.Context, func(), error) {
	if g.held(ctx) {
		return ctx, func() {}, ErrReentrantCall
	}
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx, func() {}, ctx.Err()
	}
	released := false
	release := func() {
		if !released {
			released = true
			<-g.sem
		}
	}
	return context.WithValue(ctx, guardKey{}, g), release, nil
}

func (g *guard) held(ctx context.Context) bool {
	owner, _ := ctx.Value(guardKey{}).(*guard)
	return owner == g
}
