package errors

import (
	"fmt"
	"testing"
)

func TestConvoError_Error(t *testing.T) {
	err := &ConvoError{
		Code:    ErrIndexOutOfRange,
		Status:  400,
		Message: "Invalid index",
	}

	expected := "INDEX_OUT_OF_RANGE: Invalid index"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidName(t *testing.T) {
	err := NewInvalidName("bad name")

	if err.Code != ErrInvalidName {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidName)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Details["name"] != "bad name" {
		t.Errorf("Details[name] = %v, want %q", err.Details["name"], "bad name")
	}
}

func TestNewAlreadyExists(t *testing.T) {
	err := NewAlreadyExists("demo")

	if err.Code != ErrAlreadyExists {
		t.Errorf("Code = %q, want %q", err.Code, ErrAlreadyExists)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
	if err.Details["name"] != "demo" {
		t.Errorf("Details[name] = %v, want %q", err.Details["name"], "demo")
	}
}

func TestNewIndexOutOfRange(t *testing.T) {
	err := NewIndexOutOfRange(3, 3)

	if err.Code != ErrIndexOutOfRange {
		t.Errorf("Code = %q, want %q", err.Code, ErrIndexOutOfRange)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "Invalid index" {
		t.Errorf("Message = %q, want %q", err.Message, "Invalid index")
	}
	if err.Details["index"] != 3 || err.Details["length"] != 3 {
		t.Errorf("Details = %v, want index=3 length=3", err.Details)
	}
}

func TestNewValidation(t *testing.T) {
	err := NewValidation("role is required")

	if err.Code != ErrValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrValidation)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "role is required" {
		t.Errorf("Message = %q, want %q", err.Message, "role is required")
	}
}

func TestNewDecode(t *testing.T) {
	err := NewDecode("malformed token")

	if err.Code != ErrDecode {
		t.Errorf("Code = %q, want %q", err.Code, ErrDecode)
	}
	if err.Status != 422 {
		t.Errorf("Status = %d, want 422", err.Status)
	}
}

func TestNewConflict(t *testing.T) {
	err := NewConflict("concurrent modification detected")

	if err.Code != ErrConflict {
		t.Errorf("Code = %q, want %q", err.Code, ErrConflict)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
}

func TestNewCancelled(t *testing.T) {
	err := NewCancelled("export")

	if err.Code != ErrCancelled {
		t.Errorf("Code = %q, want %q", err.Code, ErrCancelled)
	}
	if err.Details["operation"] != "export" {
		t.Errorf("Details[operation] = %v, want %q", err.Details["operation"], "export")
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		err := NewInternal(fmt.Errorf("disk full"))

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Status != 500 {
			t.Errorf("Status = %d, want 500", err.Status)
		}
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "disk full" {
			t.Errorf("Details[internal_error] = %v, want %q", err.Details["internal_error"], "disk full")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)
		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		if !Is(NewInvalidName("x y"), ErrInvalidName) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		if Is(NewInvalidName("x y"), ErrConflict) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("plain error", func(t *testing.T) {
		if Is(fmt.Errorf("plain error"), ErrInternal) {
			t.Error("Is() = true, want false for non-ConvoError")
		}
	})

	t.Run("wrapped", func(t *testing.T) {
		wrapped := fmt.Errorf("records[2]: %w", NewValidation("bad"))
		if !Is(wrapped, ErrValidation) {
			t.Error("Is() = false, want true for wrapped ConvoError")
		}
	})
}

func TestAs(t *testing.T) {
	if got := As(NewAlreadyExists("a")); got.Code != ErrAlreadyExists {
		t.Errorf("As() code = %q, want %q", got.Code, ErrAlreadyExists)
	}
	if got := As(fmt.Errorf("boom")); got.Code != ErrInternal {
		t.Errorf("As() code = %q, want %q", got.Code, ErrInternal)
	}
}
