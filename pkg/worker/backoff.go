package worker

import (
	"math/rand/v2"
	"time"
)

// backoffBase, backoffCap implement the exponential 1s/2s/4s/capped-15s
// schedule spec §4.6 requires, generalized from the teacher's jittered
// backoff constants in pkg/mcp/recovery.go.
const (
	backoffBase = time.Second
	backoffCap  = 15 * time.Second
)

// backoffDelay returns the delay before retry attempt n (1-indexed: the
// delay before the *second* call), with up to 25% jitter, capped at
// backoffCap.
func backoffDelay(attempt int) time.Duration {
	delay := backoffBase << uint(attempt-1)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	jitter := time.Duration(rand.Int64N(int64(delay) / 4))
	return delay + jitter
}
