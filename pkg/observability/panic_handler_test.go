package observability

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestRecoverPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()

	func() {
		defer RecoverPanic(logger, "worker")
		panic("boom")
	}()

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("Expected a log entry")
	}
	if entry.Data["context"] != "worker" || entry.Data["panic"] != "boom" {
		t.Errorf("Unexpected fields: %v", entry.Data)
	}
	if entry.Data["stack"] == "" {
		t.Error("Expected stack trace")
	}
}

func TestRecoverPanicWithCallback(t *testing.T) {
	logger, _ := test.NewNullLogger()

	called := false
	func() {
		defer RecoverPanicWithCallback(logger, "worker", func() { called = true })
	}()
	if called {
		t.Error("Callback must not run without a panic")
	}

	func() {
		defer RecoverPanicWithCallback(logger, "worker", func() { called = true })
		panic("boom")
	}()
	if !called {
		t.Error("Expected callback after panic")
	}
}

func TestMustRecover(t *testing.T) {
	if err := MustRecover(nil); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
	if err := MustRecover("boom"); err == nil || err.Error() != "panic: boom" {
		t.Errorf("Unexpected error %v", err)
	}
}
