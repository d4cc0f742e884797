package shared

import (
	"errors"
	"testing"
)

func TestIsSQLiteConflictError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("SQLITE_BUSY: database busy"), true},
		{errors.New("database is locked (5)"), true},
		{errors.New("no such table"), false},
	}
	for _, tc := range cases {
		if got := IsSQLiteConflictError(tc.err); got != tc.want {
			t.Errorf("IsSQLiteConflictError(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("  short  ", 10); got != "short" {
		t.Errorf("unexpected %q", got)
	}
	if got := Truncate("复旦周边有什么好吃的甜品店", 4); got != "复旦周边…" {
		t.Errorf("unexpected %q", got)
	}
	if got := Truncate("abc", 0); got != "" {
		t.Errorf("unexpected %q", got)
	}
}
