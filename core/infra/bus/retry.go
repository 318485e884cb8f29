package bus

import (
	"errors"
	"fmt"
	"time"
)

// maxRedeliveryDelay caps the backoff applied to repeated naks.
const maxRedeliveryDelay = time.Minute

// TransientError marks a handler failure worth another delivery. Durable
// session subscriptions nak the message so it comes back after Delay; every
// other subscription logs the error and drops the message.
type TransientError struct {
	Err   error
	Delay time.Duration
}

func (e *TransientError) Error() string {
	if e.Delay > 0 {
		return fmt.Sprintf("transient, redeliver in %s: %v", e.Delay, e.Err)
	}
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RetryAfter wraps err so a durable consumer redelivers the message after
// delay. A nil err stays nil.
func RetryAfter(err error, delay time.Duration) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err, Delay: max(delay, 0)}
}

// RetryDelay returns the delay carried by a TransientError anywhere in err's
// chain.
func RetryDelay(err error) (time.Duration, bool) {
	var te *TransientError
	if !errors.As(err, &te) {
		return 0, false
	}
	return te.Delay, true
}

// redeliveryDelay doubles the requested delay for every delivery after the
// first, capped at maxRedeliveryDelay. A zero request stays zero.
func redeliveryDelay(requested time.Duration, delivered uint64) time.Duration {
	if requested <= 0 {
		return 0
	}
	d := requested
	for i := uint64(1); i < delivered && d < maxRedeliveryDelay; i++ {
		d *= 2
	}
	return min(d, maxRedeliveryDelay)
}

// exhausted reports whether a message delivered this many times has used up
// its attempts. A limit of zero or less never gives up.
func exhausted(delivered uint64, limit int) bool {
	return limit > 0 && delivered >= uint64(limit)
}
