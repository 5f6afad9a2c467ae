// Package liveness vends the cancellation token guarding completion handlers of in-flight calls
// against mutating state of a viewer session which has been torn down meanwhile.
package liveness

import "sync/atomic"

// Token is alive until Cancel is called. The zero value is alive.
type Token struct {
	dead atomic.Bool
}

func New() *Token {
	return &Token{}
}

// Alive reports whether the owner of the token is still around. A nil token is never alive.
func (t *Token) Alive() bool {
	return t != nil && !t.dead.Load()
}

// Cancel marks the token dead. It returns true only for the call which actually flipped it.
func (t *Token) Cancel() bool {
	return t.dead.CompareAndSwap(false, true)
}

// Dead returns a token which is already cancelled
func Dead() *Token {
	t := &Token{}
	t.dead.Store(true)
	return t
}
