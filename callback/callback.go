// Package callback provides invocable units bound to a receiver type.
//
// A callback is either a function taking the receiver as its first argument,
// which includes Go method expressions like (*T).Method, or a method looked up
// by name once when the callback is created.
package callback

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"
)

// Callback is a function invoked against a receiver of type R with an
// argument of type A.
type Callback[R, A any] interface {
	// Call invokes the callback with recv as its receiver.
	// Errors from the underlying function are returned unchanged.
	// Panics propagate to the caller; see [Invoke].
	Call(ctx context.Context, recv R, arg A) error
	// Name describes the callback for logs.
	Name() string
}

// Func is a callback implemented by a function which takes the receiver as
// its first argument. Method expressions are assignable to Func.
type Func[R, A any] func(recv R, ctx context.Context, arg A) error

// Call calls f.
func (f Func[R, A]) Call(ctx context.Context, recv R, arg A) error {
	return f(recv, ctx, arg)
}

// Name returns the name of the underlying function, without its package path.
func (f Func[R, A]) Name() string {
	fn := runtime.FuncForPC(reflect.ValueOf(f).Pointer())
	if fn == nil {
		return "func"
	}
	s := fn.Name()
	if k := strings.LastIndexByte(s, '/'); k >= 0 {
		s = s[k+1:]
	}
	return s
}

type method[R, A any] struct {
	name string
	fn   func(R, context.Context, A) error
}

// Method creates a callback which calls the method of R with the given name.
// The method must have the signature func(context.Context, A) error.
// Panics if R has no such method.
func Method[R, A any](name string) Callback[R, A] {
	t := reflect.TypeFor[R]()
	m, ok := t.MethodByName(name)
	if !ok {
		panic(fmt.Errorf("callback: %v has no method %s", t, name))
	}
	fn, ok := m.Func.Interface().(func(R, context.Context, A) error)
	if !ok {
		panic(fmt.Errorf("callback: %v.%s has type %v, not func(context.Context, %v) error", t, name, m.Type, reflect.TypeFor[A]()))
	}
	return &method[R, A]{name: name, fn: fn}
}

func (m *method[R, A]) Call(ctx context.Context, recv R, arg A) error {
	return m.fn(recv, ctx, arg)
}

func (m *method[R, A]) Name() string {
	return m.name
}

// PanicError is an error produced from a callback that panicked.
type PanicError struct {
	// Callback is the name of the callback.
	Callback string
	// Value is the value passed to panic.
	Value any
	// Stack is the stack trace at the time of the panic.
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("callback %s panicked: %v", e.Callback, e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Invoke calls cb and converts a panic into a *[PanicError].
func Invoke[R, A any](ctx context.Context, cb Callback[R, A], recv R, arg A) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Callback: cb.Name(), Value: r, Stack: debug.Stack()}
		}
	}()
	return cb.Call(ctx, recv, arg)
}
