package prshare

import (
	"fmt"
	"sync/atomic"

	"github.com/jpillora/sizestr"
)

// ConnStats counts open and total forwarded requests, and the bytes they
// returned
type ConnStats struct {
	count int64
	open  int64
	bytes int64
}

// New counts a new request and returns its sequence number
func (c *ConnStats) New() int64 {
	return atomic.AddInt64(&c.count, 1)
}

// Open marks a request in flight
func (c *ConnStats) Open() {
	atomic.AddInt64(&c.open, 1)
}

// Close marks a request finished after it returned n bytes
func (c *ConnStats) Close(n int64) {
	atomic.AddInt64(&c.open, -1)
	atomic.AddInt64(&c.bytes, n)
}

// Total returns the number of requests seen so far
func (c *ConnStats) Total() int64 {
	return atomic.LoadInt64(&c.count)
}

func (c *ConnStats) String() string {
	return fmt.Sprintf("[%d/%d %s]", atomic.LoadInt64(&c.open), atomic.LoadInt64(&c.count),
		sizestr.ToString(atomic.LoadInt64(&c.bytes)))
}
