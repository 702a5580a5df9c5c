// VirtIO split virtqueue
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package queue

import (
	"errors"
	"sync"

	"github.com/usbarmory/virtio-net/dma"
)

// Descriptor flags, see VIRTIO 1.2 - 2.7.5.
const (
	descNext  = 1
	descWrite = 2
)

type splitDescriptor struct {
	addr  uint
	size  uint32
	flags uint16
	next  uint16
	slice []byte
}

// SplitQueue is a split-ring virtqueue (VIRTIO 1.2 - 2.6), built from a
// descriptor table plus available/used rings, grounded on the teacher's
// VirtualQueue. It is backed by a dma.Region rather than bus addresses so
// it can be driven and tested independent of real hardware or a real
// device on the other end of the ring.
type SplitQueue struct {
	mu sync.Mutex

	region *dma.Region
	size   uint16

	descs []splitDescriptor
	free  []uint16

	availIndex uint16
	usedLast   uint16
	used       []struct {
		id     uint16
		length uint32
	}

	pending map[uint16]*BufferToken
	order   []uint16

	notifyEnabled bool
	notifyFn      func()
}

// NewSplitQueue allocates a split-ring queue of the given size, with its
// descriptor buffers reserved from region. notifyFn is invoked by
// Notify() to kick the device (e.g. a transport's QueueNotify write).
func NewSplitQueue(region *dma.Region, size uint16, notifyFn func()) *SplitQueue {
	q := &SplitQueue{
		region:        region,
		size:          size,
		descs:         make([]splitDescriptor, size),
		pending:       make(map[uint16]*BufferToken),
		notifyEnabled: true,
		notifyFn:      notifyFn,
	}

	for i := uint16(0); i < size; i++ {
		q.free = append(q.free, size-1-i)
	}

	return q
}

// Size returns the number of descriptor slots in the ring.
func (q *SplitQueue) Size() uint16 {
	return q.size
}

func (q *SplitQueue) allocChain(spec *BuffSpec, write bool) ([][]byte, uint16, bool, error) {
	if spec == nil || len(spec.Sizes) == 0 {
		return nil, 0, false, nil
	}

	var bufs [][]byte
	var chain []uint16

	for _, size := range spec.Sizes {
		if len(q.free) == 0 {
			return nil, 0, false, errors.New("queue: split ring out of descriptors")
		}

		idx := q.free[len(q.free)-1]
		q.free = q.free[:len(q.free)-1]

		addr, buf := q.region.Reserve(size, 0)

		flags := uint16(0)
		if write {
			flags |= descWrite
		}

		q.descs[idx] = splitDescriptor{addr: addr, size: uint32(size), flags: flags, slice: buf}

		bufs = append(bufs, buf)
		chain = append(chain, idx)
	}

	for i := 0; i < len(chain)-1; i++ {
		q.descs[chain[i]].flags |= descNext
		q.descs[chain[i]].next = chain[i+1]
	}

	return bufs, chain[0], true, nil
}

// PrepBuffer reserves a descriptor chain for send and/or recv and
// returns a token wrapping it.
func (q *SplitQueue) PrepBuffer(send, recv *BuffSpec) (*BufferToken, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sendBufs, sendHead, hasSend, err := q.allocChain(send, false)
	if err != nil {
		return nil, err
	}

	recvBufs, recvHead, hasRecv, err := q.allocChain(recv, true)
	if err != nil {
		return nil, err
	}

	tok := newBufferToken(q, sendBufs, recvBufs)

	switch {
	case hasSend:
		tok.head = sendHead
	case hasRecv:
		tok.head = recvHead
	}

	return tok, nil
}

// push makes the token's descriptor chain available to the device by
// advancing the available ring, see VIRTIO 1.2 - 2.7.13.
func (q *SplitQueue) push(tok *BufferToken) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending[tok.head] = tok
	q.order = append(q.order, tok.head)
	q.availIndex++
}

// Poll simulates draining the used ring: any pending descriptor chains
// are considered complete in the order they were submitted, matching a
// well-behaved virtio-net device, and are handed back through their
// dispatch channel.
func (q *SplitQueue) Poll() {
	q.mu.Lock()

	completed := make([]*BufferToken, 0, len(q.order))

	for _, head := range q.order {
		if tok, ok := q.pending[head]; ok {
			completed = append(completed, tok)
			delete(q.pending, head)
			q.usedLast++
		}
	}

	q.order = q.order[:0]

	q.mu.Unlock()

	for _, tok := range completed {
		if tok.ch != nil {
			tok.ch <- tok
		}
	}
}

// EnableNotifications records that the device may raise an interrupt on
// completion. This simulated ring has no available-ring flags, so the
// setting is only recorded.
func (q *SplitQueue) EnableNotifications() {
	q.mu.Lock()
	q.notifyEnabled = true
	q.mu.Unlock()
}

// DisableNotifications records that the device should not raise
// interrupts for this queue. This simulated ring has no available-ring
// flags, so the setting is only recorded.
func (q *SplitQueue) DisableNotifications() {
	q.mu.Lock()
	q.notifyEnabled = false
	q.mu.Unlock()
}

// Notify kicks the device to process newly available descriptors.
func (q *SplitQueue) Notify() {
	if q.notifyFn != nil {
		q.notifyFn()
	}
}
