// Package seq provides the engine's single monotonic transaction counter,
// shared by the Command Dispatcher and the Trigger Loop so every audited
// event — whether it came from a user command or an armed trigger firing —
// gets a unique, strictly increasing transactionNum.
package seq

import "sync/atomic"

// Counter is a goroutine-safe monotonic counter starting at 1.
type Counter struct {
	n atomic.Int64
}

// Next returns the next transaction number, starting from 1.
func (c *Counter) Next() int64 {
	return c.n.Add(1)
}
