package portab_test

import (
	"errors"
	"testing"

	"portab/internal/model"
)

// assertKind fails t unless err is a *model.Error of kind on field.
// An empty field matches any field.
func assertKind(t *testing.T, err error, kind model.Kind, field string) {
	t.Helper()
	var merr *model.Error
	if !errors.As(err, &merr) {
		t.Fatalf("error = %v, want %s", err, kind)
	}
	if merr.Kind != kind || (field != "" && merr.Field != field) {
		t.Fatalf("error = %v (kind %s, field %q), want kind %s field %q", err, merr.Kind, merr.Field, kind, field)
	}
}
