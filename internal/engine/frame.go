package engine

import (
	"context"

	"github.com/interstice-network/interstice-core/internal/table"
)

// FrameKind distinguishes a Reducer call frame (may mutate tables) from
// a Query call frame, which is read-only and may never insert, update,
// or delete a row.
type FrameKind uint8

const (
	FrameReducer FrameKind = iota
	FrameQuery
)

// kindTag feeds into the deterministic RNG seed for this frame.
func (k FrameKind) kindTag() byte { return byte(k) }

// Frame is one entry of the call-stack: pushed on entry to a
// reducer/query, popped on exit.
type Frame struct {
	Module       string
	Entry        string
	Kind         FrameKind
	RNGState     uint64
	CallSequence uint64
}

// stack is the explicit, per-external-trigger call-frame stack: built
// fresh for each top-level trigger, never shared across goroutines. It
// never contains the same Module twice, enforced by the cycle check in
// enterAndCallReducer/enterAndCallQuery before a push. emitted accumulates every table mutation
// event across the whole call tree, so subscriptions can be looked up
// once the top-level trigger has fully returned and delivered as fresh
// top-level calls.
type stack struct {
	frames  []Frame
	emitted []table.Event
}

func (s *stack) push(f Frame)  { s.frames = append(s.frames, f) }
func (s *stack) depth() int    { return len(s.frames) }
func (s *stack) empty() bool   { return len(s.frames) == 0 }

func (s *stack) pop() Frame {
	f := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return f
}

func (s *stack) current() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return &s.frames[len(s.frames)-1]
}

func (s *stack) contains(module string) bool {
	for _, f := range s.frames {
		if f.Module == module {
			return true
		}
	}
	return false
}

type stackCtxKey struct{}

func withStack(ctx context.Context, s *stack) context.Context {
	return context.WithValue(ctx, stackCtxKey{}, s)
}

func stackFrom(ctx context.Context) *stack {
	s, _ := ctx.Value(stackCtxKey{}).(*stack)
	return s
}
