package startup

import (
	"testing"
	"time"
)

func TestNextBackoffCaps(t *testing.T) {
	d := 2 * time.Second
	for i := 0; i < 10; i++ {
		d = nextBackoff(d)
	}
	if d != 32*time.Second {
		t.Fatalf("backoff = %v, want 32s cap", d)
	}
}
