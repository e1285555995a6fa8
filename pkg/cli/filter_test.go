package cli

import (
	"reflect"
	"strings"
	"testing"
)

func TestNewFilter_Invalid(t *testing.T) {
	_, err := NewFilter(".names[")
	if err == nil {
		t.Fatal("NewFilter should fail for an unterminated expression")
	}
	if !strings.Contains(err.Error(), "invalid jq expression") {
		t.Errorf("error = %v, want parse error", err)
	}
}

func TestFilter_Apply(t *testing.T) {
	type session struct {
		ID    string `json:"id"`
		Voice string `json:"voice"`
	}
	sessions := []session{
		{ID: "a1", Voice: "NATF2"},
		{ID: "b2", Voice: "NATM0"},
	}

	t.Run("single result is unwrapped", func(t *testing.T) {
		f, err := NewFilter(".[0].voice")
		if err != nil {
			t.Fatalf("NewFilter: %v", err)
		}
		got, err := f.Apply(sessions)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if got != "NATF2" {
			t.Errorf("Apply = %v, want %q", got, "NATF2")
		}
	})

	t.Run("multiple results become a list", func(t *testing.T) {
		f, err := NewFilter(".[] | .id")
		if err != nil {
			t.Fatalf("NewFilter: %v", err)
		}
		got, err := f.Apply(sessions)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		want := []any{"a1", "b2"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Apply = %v, want %v", got, want)
		}
	})

	t.Run("no results yield nil", func(t *testing.T) {
		f, err := NewFilter("empty")
		if err != nil {
			t.Fatalf("NewFilter: %v", err)
		}
		got, err := f.Apply(sessions)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if got != nil {
			t.Errorf("Apply = %v, want nil", got)
		}
	})

	t.Run("runtime errors surface", func(t *testing.T) {
		f, err := NewFilter(".voice")
		if err != nil {
			t.Fatalf("NewFilter: %v", err)
		}
		if _, err := f.Apply(sessions); err == nil {
			t.Fatal("Apply should fail indexing an array with a key")
		}
	})
}

func TestFilter_Expr(t *testing.T) {
	f, err := NewFilter(".ready")
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	if f.Expr() != ".ready" {
		t.Errorf("Expr() = %q", f.Expr())
	}
}
