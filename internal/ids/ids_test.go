package ids

import "testing"

func TestNewSessionIDUniqueAndValid(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewSessionID()
		if !Valid(id) {
			t.Fatalf("generated id %q is not valid", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "not-a-session-id-at-all-000000"} {
		if Valid(in) {
			t.Fatalf("Valid(%q) = true, want false", in)
		}
	}
}
