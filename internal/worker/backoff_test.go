package worker

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, 5 * time.Minute},
		{200, 5 * time.Minute},
	}
	for _, c := range cases {
		if got := Backoff(0, 0, c.retry); got != c.want {
			t.Errorf("Backoff(retry=%d) = %v, want %v", c.retry, got, c.want)
		}
	}
	if got := Backoff(time.Minute, 30*time.Second, 1); got != 30*time.Second {
		t.Errorf("base above max: got %v", got)
	}
}
