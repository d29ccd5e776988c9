package main

import "time"

const (
	txQueueSize       = 1024 // per-bus async TX ring
	serialReadBufSize = 4096
	// largeBufferReclaimThreshold is the capacity above which a drained
	// serial accumulator is reallocated instead of reused.
	largeBufferReclaimThreshold = 16 * 1024
	rxBackoffMin                = 20 * time.Millisecond
	rxBackoffMax                = 500 * time.Millisecond
)
