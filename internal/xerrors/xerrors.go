// Package xerrors wraps errors with the call site (Wrap, New) or a full
// stack (WithStack, EnsureTrace) so the logger can render error_links and
// stack attributes without each caller formatting them.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// re-exported so callers only need one errors import
var (
	Is   = errors.Is
	As   = errors.As
	Join = errors.Join
)

const maxStackDepth = 64

type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }

type annotated struct {
	err error
	msg string
	pc  uintptr
}

func (a *annotated) Error() string { return a.msg + ": " + a.err.Error() }
func (a *annotated) Unwrap() error { return a.err }
func (a *annotated) PC() uintptr   { return a.pc }

// skip counts frames above runtime.Callers
func stackAt(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip, pcs)
	return pcs[:n]
}

func pcAt(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// WithStack attaches the caller's stack to err.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: stackAt(3)}
}

// EnsureTrace attaches a stack unless err already carries one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	if HasStack(err) {
		return err
	}
	return &stacked{err: err, pcs: stackAt(3)}
}

// HasStack reports whether any error in the chain carries stack PCs.
func HasStack(err error) bool {
	var hs interface{ StackPCs() []uintptr }
	return errors.As(err, &hs) && len(hs.StackPCs()) > 0
}

// Wrap prefixes err with msg and records the caller.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: msg, pc: pcAt(3)}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: fmt.Sprintf(format, args...), pc: pcAt(3)}
}

func New(msg string) error {
	return &stacked{err: errors.New(msg), pcs: stackAt(3)}
}

func Newf(format string, args ...any) error {
	return &stacked{err: fmt.Errorf(format, args...), pcs: stackAt(3)}
}
