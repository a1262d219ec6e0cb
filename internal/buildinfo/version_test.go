package buildinfo

import "testing"

func TestVersion_DefaultsToDev(t *testing.T) {
	if Version != "dev" {
		t.Errorf("Version = %q, want default %q (override only via -ldflags)", Version, "dev")
	}
}
