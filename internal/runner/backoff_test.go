package runner

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	cases := []struct {
		retry     int
		max       int
		wantSleep time.Duration
		wantRetry int
	}{
		{1, 5, 30 * time.Second, 1},
		{2, 5, 60 * time.Second, 2},
		{3, 5, 90 * time.Second, 3},
		{4, 5, 120 * time.Second, 4},
		{5, 5, 10 * time.Minute, 0},
		{7, 5, 10 * time.Minute, 0},
		{11, 20, 300 * time.Second, 11},
		{1, 1, 10 * time.Minute, 0},
	}
	for _, tc := range cases {
		sleep, next := Backoff(tc.retry, tc.max, 10*time.Minute)
		if sleep != tc.wantSleep || next != tc.wantRetry {
			t.Fatalf("Backoff(%d, %d)=(%v, %d), want (%v, %d)", tc.retry, tc.max, sleep, next, tc.wantSleep, tc.wantRetry)
		}
	}
}
