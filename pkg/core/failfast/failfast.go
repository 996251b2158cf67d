// Package failfast panics on programming errors: nil collaborators and
// impossible arguments handed to constructors. Runtime failures are
// returned as errors, never routed through here.
package failfast

import (
	"fmt"
	"reflect"
	"runtime/debug"
)

const prefix = "fail-fast: "

// Err panics with err and the current stack if err is non-nil.
func Err(err error) {
	if err != nil {
		panic(fmt.Errorf(prefix+"%w\n%s", err, debug.Stack()))
	}
}

// If panics with the formatted message when condition is false.
func If(condition bool, message string, args ...any) {
	if !condition {
		panic(fmt.Errorf(prefix+message, args...))
	}
}

// NotNil panics when v is nil, including a typed nil pointer, func, map,
// chan or slice stored in an interface.
func NotNil(v any, name string) {
	if isNil(v) {
		panic(fmt.Errorf(prefix+"%s is nil", name))
	}
}

// Positive panics when n < 1.
func Positive(n int, name string) {
	if n < 1 {
		panic(fmt.Errorf(prefix+"%s must be positive, got %d", name, n))
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Chan, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
