package capture

import "sync/atomic"

// Token is the shared cancellation signal between the orchestrator and the
// capture loop. The orchestrator is the only writer (Clear at cycle start,
// Signal at session end); the capture loop only reads it between polls.
type Token struct {
	flag atomic.Bool
}

// NewToken returns a cleared Token.
func NewToken() *Token {
	return &Token{}
}

// Clear resets the token at the start of a cycle.
func (t *Token) Clear() {
	t.flag.Store(false)
}

// Signal requests that the capture loop stop after its current poll.
func (t *Token) Signal() {
	t.flag.Store(true)
}

// Signaled reports whether Signal has been called since the last Clear.
func (t *Token) Signaled() bool {
	return t.flag.Load()
}
