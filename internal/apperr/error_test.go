package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestNewBuildsOperationScopedCode(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindStorage, "notes.create", "insert_failed", cause)
	if err.Code() != "notes.create.insert_failed" {
		t.Fatalf("unexpected code %q", err.Code())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be unwrapped")
	}
	if err.Error() != "notes.create.insert_failed: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestWithFieldLeavesOriginalUntouched(t *testing.T) {
	base := New(KindConflict, "lobbies.create", "code_in_use", nil)
	annotated := base.WithField("code")
	if annotated.Field() != "code" {
		t.Fatalf("expected field to be set")
	}
	if base.Field() != "" {
		t.Fatalf("expected original error to keep an empty field")
	}
}

func TestKindOfFollowsWrappedErrors(t *testing.T) {
	inner := New(KindNotFound, "lobbies.get", "not_found", nil)
	wrapped := fmt.Errorf("handler: %w", inner)
	if KindOf(wrapped) != KindNotFound {
		t.Fatalf("expected not_found, got %q", KindOf(wrapped))
	}
	if !Is(wrapped, KindNotFound) {
		t.Fatalf("expected Is to match wrapped kind")
	}
	if KindOf(errors.New("plain")) != KindStorage {
		t.Fatalf("expected foreign errors to be treated as storage errors")
	}
	if KindOf(nil) != "" {
		t.Fatalf("expected empty kind for nil error")
	}
}

func TestFromStorageTranslatesDriverErrors(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "record not found", err: gorm.ErrRecordNotFound, kind: KindNotFound},
		{name: "gorm duplicated key", err: gorm.ErrDuplicatedKey, kind: KindConflict},
		{name: "postgres unique violation", err: &pgconn.PgError{Code: "23505"}, kind: KindConflict},
		{name: "wrapped postgres unique violation", err: fmt.Errorf("insert lobby: %w", &pgconn.PgError{Code: "23505"}), kind: KindConflict},
		{name: "sqlite unique violation", err: errors.New("UNIQUE constraint failed: lobbies.code"), kind: KindConflict},
		{name: "postgres foreign key", err: &pgconn.PgError{Code: "23503"}, kind: KindStorage},
		{name: "other", err: errors.New("disk full"), kind: KindStorage},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			translated := FromStorage("op", "failed", testCase.err)
			if translated.Kind() != testCase.kind {
				t.Fatalf("expected %q, got %q", testCase.kind, translated.Kind())
			}
		})
	}
}
