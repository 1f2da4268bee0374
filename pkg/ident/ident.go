// Package ident mints time-ordered message identities. IDs are 63-bit
// integers composed of a millisecond timestamp, a node id and a per-ms
// step, so identities from one node sort by creation time.
package ident

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits = 10
	stepBits = 12

	nodeMax  = -1 ^ (-1 << nodeBits)
	stepMask = -1 ^ (-1 << stepBits)

	timeShift = nodeBits + stepBits
	nodeShift = stepBits

	epoch int64 = 1735689600000 // 2025-01-01 00:00:00 UTC
)

type Generator struct {
	mu   sync.Mutex
	last int64
	node int64
	step int64
}

func NewGenerator(node int64) (*Generator, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("ident: node must be between 0 and 1023")
	}
	return &Generator{node: node}, nil
}

// Next returns a new unique id. Safe for concurrent use.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < g.last {
		// Clock went backwards; hold at the last observed ms.
		now = g.last
	}

	if now == g.last {
		g.step = (g.step + 1) & stepMask
		if g.step == 0 {
			for now <= g.last {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.step = 0
	}
	g.last = now

	return ((now - epoch) << timeShift) | (g.node << nodeShift) | g.step
}
