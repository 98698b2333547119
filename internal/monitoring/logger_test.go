package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op; must not panic
	SetLogger(nil)
	Logf("test message")
}

func TestPrefixed(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})

	logf := Prefixed("Gate")
	logf("dropped scan seq=%d", 7)

	if want := "[Gate] dropped scan seq=7"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// The prefixed logger follows later SetLogger calls.
	var second string
	SetLogger(func(format string, v ...interface{}) {
		second = fmt.Sprintf(format, v...)
	})
	logf("again")
	if second != "[Gate] again" {
		t.Errorf("got %q after SetLogger, want %q", second, "[Gate] again")
	}
}
