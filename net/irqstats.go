// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import "sync"

// IRQStats counts handled interrupts per interrupt line. It supplements
// HandleInterrupt with observability the upstream driver this code is
// modeled on gets for free from its host kernel's per-core IRQ counters,
// which this driver has no equivalent of.
type IRQStats struct {
	mu     sync.Mutex
	counts map[int]uint64
}

// NewIRQStats returns an empty interrupt counter table.
func NewIRQStats() *IRQStats {
	return &IRQStats{counts: make(map[int]uint64)}
}

// Increment records one handled interrupt on irq.
func (s *IRQStats) Increment(irq int) {
	s.mu.Lock()
	s.counts[irq]++
	s.mu.Unlock()
}

// Count returns the number of interrupts handled so far on irq.
func (s *IRQStats) Count(irq int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counts[irq]
}
