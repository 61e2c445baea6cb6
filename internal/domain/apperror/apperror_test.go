package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{Invalid("reason", "is required"), CodeValidation},
		{fmt.Errorf("reject: %w", Invalid("reason", "is required")), CodeValidation},
		{fmt.Errorf("review r-1 is APPROVED: %w", ErrConflict), CodeConflict},
		{fmt.Errorf("load: %w", ErrNotFound), CodeNotFound},
		{ErrForbidden, CodeForbidden},
		{errors.New("connection reset"), CodeInternal},
	}
	for _, c := range cases {
		if got := Code(c.err); got != c.want {
			t.Errorf("Code(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := fmt.Errorf("submit: %w", Invalid("surgeryId", "is required"))
	if !IsValidation(err) {
		t.Fatal("expected wrapped validation error")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "surgeryId" {
		t.Errorf("unexpected validation error %+v", ve)
	}
	if got := Invalid("", "bad input").Error(); got != "validation: bad input" {
		t.Errorf("unexpected message %q", got)
	}
}
