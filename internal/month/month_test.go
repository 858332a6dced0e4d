package month

import (
	"errors"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"2025-09", true},
		{"1999-12", true},
		{"2025-13", false},
		{"2025-00", false},
		{"2025-9", false},
		{"25-09", false},
		{"2025-09-01", false},
		{"", false},
		{"../../x", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := Parse(tt.in)
			if (err == nil) != tt.valid {
				t.Errorf("Parse(%q) err = %v, valid = %v", tt.in, err, tt.valid)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("err = %v, want ErrInvalid", err)
			}
			if Valid(tt.in) != tt.valid {
				t.Errorf("Valid(%q) = %v", tt.in, !tt.valid)
			}
		})
	}
}

func TestShift(t *testing.T) {
	tests := []struct {
		in    string
		delta int
		want  string
	}{
		{"2025-09", 1, "2025-10"},
		{"2025-12", 1, "2026-01"},
		{"2025-01", -1, "2024-12"},
		{"2025-03", -14, "2024-01"},
		{"2025-03", 0, "2025-03"},
	}
	for _, tt := range tests {
		got, err := Shift(tt.in, tt.delta)
		if err != nil {
			t.Fatalf("Shift(%q, %d): %v", tt.in, tt.delta, err)
		}
		if got != tt.want {
			t.Errorf("Shift(%q, %d) = %q, want %q", tt.in, tt.delta, got, tt.want)
		}
	}
	if _, err := Shift("bad", 1); err == nil {
		t.Error("expected error for invalid month")
	}
}

func TestDays(t *testing.T) {
	tests := map[string]int{"2024-02": 29, "2025-02": 28, "2025-09": 30, "2025-12": 31}
	for in, want := range tests {
		got, err := Days(in)
		if err != nil {
			t.Fatalf("Days(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("Days(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestOf(t *testing.T) {
	ts := time.Date(2025, time.September, 30, 23, 0, 0, 0, time.UTC)
	if got := Of(ts); got != "2025-09" {
		t.Errorf("Of = %q", got)
	}
	if !Valid(Current()) {
		t.Errorf("Current() = %q is not valid", Current())
	}
}
