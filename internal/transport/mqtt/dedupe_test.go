package mqtt

import "testing"

func TestSeenSet(t *testing.T) {
	s := newSeenSet[string](2)

	if !s.add("a") || !s.add("b") {
		t.Fatal("fresh keys reported as seen")
	}
	if s.add("a") {
		t.Error("duplicate reported as new")
	}
	if !s.add("c") {
		t.Fatal("c reported as seen")
	}
	if !s.add("a") {
		t.Error("evicted key still remembered")
	}
}
