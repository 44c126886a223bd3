package bringup_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/mkock/bringup"
)

// testSteps is a short sequence touching every step kind.
func testSteps() []bringup.Step {
	return []bringup.Step{
		bringup.Halt{},
		bringup.SetCoreState{State: bringup.ARM},
		bringup.WriteMemory{Addr: 0xFFFFFD44, Value: 0xA0008000},
		bringup.WaitMillis(5),
		bringup.FlashWrite{Bank: 0, Image: "test.bin", Offset: 0},
		bringup.Reset{},
		bringup.Shutdown{},
	}
}

func verifyNilErr(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func verifyErrorIs(t *testing.T, actual, expected error) {
	t.Helper()

	if !errors.Is(actual, expected) {
		t.Fatalf("expected error %q, got %v", expected, actual)
	}
}

// verifySequenceError checks that err is a *bringup.SequenceError for the given 1-based index and kind.
func verifySequenceError(t *testing.T, err error, index int, kind bringup.ErrorKind) *bringup.SequenceError {
	t.Helper()

	var serr *bringup.SequenceError
	if !errors.As(err, &serr) {
		t.Fatalf("expected a *bringup.SequenceError, got %T(%v)", err, err)
	}
	if serr.Index != index {
		t.Fatalf("expected failing step %d, got %d", index, serr.Index)
	}
	if serr.Kind != kind {
		t.Fatalf("expected error kind %q, got %q", kind, serr.Kind)
	}
	return serr
}

func verifyCountEq(t *testing.T, expected, actual int) {
	t.Helper()

	if actual != expected {
		t.Fatalf("expected count to equal %d, got %d", expected, actual)
	}
}

func verifyStepsEqual(t *testing.T, expected, actual []bringup.Step) {
	t.Helper()

	if len(actual) != len(expected) {
		t.Fatalf("expected %d steps, got %d: %v", len(expected), len(actual), actual)
	}
	for i := range expected {
		if !reflect.DeepEqual(expected[i], actual[i]) {
			t.Fatalf("step %d: expected %#v, got %#v", i+1, expected[i], actual[i])
		}
	}
}
