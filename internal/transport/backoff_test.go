package transport

import (
	"testing"
	"time"
)

func TestBackoff_Sequence(t *testing.T) {
	b := NewBackoff(time.Second, 30*time.Second)

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Errorf("Next() #%d = %v, want %v", i+1, got, w*time.Second)
		}
	}

	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("Next() after Reset = %v, want 1s", got)
	}
	if got := b.Next(); got != 2*time.Second {
		t.Errorf("second Next() after Reset = %v, want 2s", got)
	}
}

func TestNewBackoff_Defaults(t *testing.T) {
	tests := []struct {
		name         string
		initial, max time.Duration
		first, cap   time.Duration
	}{
		{"zero values", 0, 0, DefaultBackoffInitial, DefaultBackoffMax},
		{"max below initial", 5 * time.Second, time.Second, 5 * time.Second, 5 * time.Second},
		{"custom", 500 * time.Millisecond, 2 * time.Second, 500 * time.Millisecond, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackoff(tt.initial, tt.max)
			if got := b.Next(); got != tt.first {
				t.Errorf("first delay = %v, want %v", got, tt.first)
			}
			var last time.Duration
			for i := 0; i < 20; i++ {
				last = b.Next()
			}
			if last != tt.cap {
				t.Errorf("capped delay = %v, want %v", last, tt.cap)
			}
		})
	}
}
