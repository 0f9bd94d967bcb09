package core

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestActorFailure_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	var err error = &ActorFailure{Actor: "Loader", ID: 3, Phase: 2, Err: errors.Wrap(cause, "insert")}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause through ActorFailure")
	}

	var failure *ActorFailure
	if !errors.As(errors.Wrap(err, "run"), &failure) {
		t.Fatal("expected errors.As to find ActorFailure")
	}
	if failure.Phase != 2 {
		t.Errorf("expected phase 2, got %d", failure.Phase)
	}

	msg := err.Error()
	if !strings.Contains(msg, "Loader#3") || !strings.Contains(msg, "phase 2") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestPanicError(t *testing.T) {
	err := &PanicError{Value: "nil map"}
	if err.Error() != "panic: nil map" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	wrapped := errors.Wrapf(ErrConfiguration, "phase %d", 1)
	if !errors.Is(wrapped, ErrConfiguration) {
		t.Error("expected wrapped ErrConfiguration to match")
	}
	if errors.Is(wrapped, ErrRegistration) {
		t.Error("ErrConfiguration must not match ErrRegistration")
	}
}
