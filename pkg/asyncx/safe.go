package asyncx

import (
	"fmt"
	"runtime/debug"
)

// PanicError is returned by Safe when fn panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// Unwrap exposes a panicked error value.
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// Safe calls fn and returns its error, or a *PanicError if it panicked.
func Safe(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// Go runs fn in a goroutine. A panic is passed to onPanic instead of
// crashing the process.
func Go(fn func(), onPanic func(*PanicError)) {
	go func() {
		err := Safe(func() error {
			fn()
			return nil
		})
		if p, ok := err.(*PanicError); ok && onPanic != nil {
			onPanic(p)
		}
	}()
}
