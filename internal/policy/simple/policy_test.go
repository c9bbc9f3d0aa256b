package simple

import "testing"

func TestPolicyAllowsEveryone(t *testing.T) {
	t.Parallel()

	p := New()
	for _, key := range []string{"", "127.0.0.1", "::1"} {
		if !p.Allow(key) {
			t.Fatalf("expected %q to be allowed", key)
		}
	}
}
