package env

import (
	"reflect"
	"testing"
	"time"
)

func TestString_Default(t *testing.T) {
	got := String("RUNQC_ENV_STRING_DOES_NOT_EXIST", "fallback")
	if got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
}

func TestString_Override(t *testing.T) {
	t.Setenv("RUNQC_ENV_STRING_KEY", "value")
	got := String("RUNQC_ENV_STRING_KEY", "fallback")
	if got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestDuration(t *testing.T) {
	got, err := Duration("RUNQC_ENV_DURATION_DOES_NOT_EXIST", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 5*time.Second {
		t.Fatalf("Duration()=%v, want 5s", got)
	}

	t.Setenv("RUNQC_ENV_DURATION_KEY", "250ms")
	got, err = Duration("RUNQC_ENV_DURATION_KEY", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v, want 250ms", got)
	}

	t.Setenv("RUNQC_ENV_DURATION_INVALID", "not-a-duration")
	if _, err := Duration("RUNQC_ENV_DURATION_INVALID", time.Second); err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestBlankValueUsesDefault(t *testing.T) {
	t.Setenv("RUNQC_ENV_BLANK", "  ")
	got, err := Int("RUNQC_ENV_BLANK", 42)
	if err != nil {
		t.Fatalf("Int() err=%v", err)
	}
	if got != 42 {
		t.Fatalf("Int()=%d, want 42", got)
	}
}

func TestBoolInvalid(t *testing.T) {
	t.Setenv("RUNQC_ENV_BOOL_INVALID", "nope")
	if _, err := Bool("RUNQC_ENV_BOOL_INVALID", false); err == nil {
		t.Fatalf("Bool() expected error")
	}
}

func TestFloat(t *testing.T) {
	t.Setenv("RUNQC_ENV_FLOAT", "0.15")
	got, err := Float("RUNQC_ENV_FLOAT", 1)
	if err != nil {
		t.Fatalf("Float() err=%v", err)
	}
	if got != 0.15 {
		t.Fatalf("Float()=%v, want 0.15", got)
	}
	t.Setenv("RUNQC_ENV_FLOAT_INVALID", "abc")
	if _, err := Float("RUNQC_ENV_FLOAT_INVALID", 1); err == nil {
		t.Fatalf("Float() expected error")
	}
}

func TestInt64(t *testing.T) {
	t.Setenv("RUNQC_ENV_INT64", "10000000")
	got, err := Int64("RUNQC_ENV_INT64", 1)
	if err != nil {
		t.Fatalf("Int64() err=%v", err)
	}
	if got != 10000000 {
		t.Fatalf("Int64()=%d, want 10000000", got)
	}
}

func TestList(t *testing.T) {
	t.Setenv("RUNQC_ENV_LIST", "NTC, ntc,,")
	got := List("RUNQC_ENV_LIST", nil)
	if !reflect.DeepEqual(got, []string{"NTC", "ntc"}) {
		t.Fatalf("List()=%v, want [NTC ntc]", got)
	}
	def := List("RUNQC_ENV_LIST_MISSING", []string{"x"})
	if !reflect.DeepEqual(def, []string{"x"}) {
		t.Fatalf("List()=%v, want default", def)
	}
}
