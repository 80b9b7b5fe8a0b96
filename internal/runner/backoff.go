package runner

import "time"

const (
	backoffStep = 30 * time.Second
	backoffCap  = 300 * time.Second
)

// Backoff decides the sleep after a failed cycle. retry is the consecutive
// failure count including this one. Once it reaches maxRetries the loop
// sleeps for cooldown and the count starts over; before that the sleep grows
// by 30s per failure, capped at 5m.
func Backoff(retry, maxRetries int, cooldown time.Duration) (time.Duration, int) {
	if retry >= maxRetries {
		return cooldown, 0
	}
	sleep := time.Duration(retry) * backoffStep
	if sleep > backoffCap {
		sleep = backoffCap
	}
	return sleep, retry
}
