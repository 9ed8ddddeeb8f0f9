package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorTaxonomy(t *testing.T) {
	base := errors.New("connection reset")
	storage := &StorageError{Op: "exec", Err: base}
	if !errors.Is(storage, base) {
		t.Fatalf("storage error must unwrap to its cause")
	}
	if !strings.Contains(storage.Error(), "exec") {
		t.Fatalf("unexpected message %q", storage.Error())
	}

	conflict := &ConflictError{ProspectID: "p1", Revision: 3}
	if !conflict.Retryable() {
		t.Fatalf("conflicts are retryable")
	}

	rej := Reject(ReasonTerminalState, "prospect is %s", StageWon)
	if rej.Message != "prospect is won" || !strings.Contains(rej.Error(), "terminal_state") {
		t.Fatalf("unexpected rejection %+v", rej)
	}

	typed := []error{
		ErrNotFound{Entity: EntityProspect, ID: "p1"},
		conflict,
		storage,
		rej,
		&ValidationError{Field: "name", Message: "required"},
	}
	for _, err := range typed {
		wrapped := fmt.Errorf("outer: %w", err)
		if !IsTyped(wrapped) {
			t.Fatalf("%T should be typed through wrapping", err)
		}
	}
	if IsTyped(base) || IsTyped(nil) {
		t.Fatalf("plain errors are not typed")
	}

	if !IsNotFound(fmt.Errorf("x: %w", typed[0])) || IsNotFound(base) {
		t.Fatalf("IsNotFound misclassified")
	}
	if got, ok := AsRejection(fmt.Errorf("x: %w", rej)); !ok || got.Reason != ReasonTerminalState {
		t.Fatalf("AsRejection failed: %v %v", got, ok)
	}
	if !IsConflict(conflict) || !IsStorage(storage) || !IsValidation(typed[4]) {
		t.Fatalf("classification helpers failed")
	}
	if typed[0].Error() != "prospect p1 not found" {
		t.Fatalf("unexpected not found message %q", typed[0].Error())
	}
}
