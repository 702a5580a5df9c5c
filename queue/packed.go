// VirtIO packed virtqueue
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

// Packed descriptor flags, see VIRTIO 1.2 - 2.8.7.
const (
	packedFlagAvail = 1 << 7
	packedFlagUsed  = 1 << 15
	packedFlagNext  = 1 << 8
	packedFlagWrite = 1 << 9
)

type packedDescriptor struct {
	addr  uint
	size  uint32
	flags uint16
	slice []byte
}

// PackedQueue is a packed-ring virtqueue (VIRTIO 1.2 - 2.8): a single
// flat descriptor array where driver and device track ownership with a
// pair of flip bits instead of separate available/used arrays. Same
// DMA-backed construction strategy as SplitQueue so it can be driven
// without real hardware.
type PackedQueue struct {
	mu sync.Mutex

	region *dma.Region
	size   uint16

	descs []packedDescriptor
	free  []uint16

	// driver-side wrap counter (VIRTIO 1.2 - 2.8.1). It starts set and
	// is never toggled: descriptor slots are handed out from the free
	// list rather than in ring order.
	wrapCounter bool
	nextFree    uint16

	pending map[uint16]*BufferToken
	order   []uint16

	notifyEnabled bool
	notifyFn      func()
}

// NewPackedQueue allocates a packed-ring queue of the given size.
func NewPackedQueue(region *dma.Region, size uint16, notifyFn func()) *PackedQueue {
	q := &PackedQueue{
		region:        region,
		size:          size,
		descs:         make([]packedDescriptor, size),
		pending:       make(map[uint16]*BufferToken),
		wrapCounter:   true,
		notifyEnabled: true,
		notifyFn:      notifyFn,
	}

	for i := uint16(0); i < size; i++ {
		q.free = append(q.free, size-1-i)
	}

	return q
}

// Size returns the number of descriptor slots in the ring.
func (q *PackedQueue) Size() uint16 {
	return q.size
}

func (q *PackedQueue) allocChain(spec *BuffSpec, write bool) ([][]byte, uint16, bool, error) {
	if spec == nil || len(spec.Sizes) == 0 {
		return nil, 0, false, nil
	}

	var bufs [][]byte
	var chain []uint16

	for _, size := range spec.Sizes {
		if len(q.free) == 0 {
			return nil, 0, false, errors.New("queue: packed ring out of descriptors")
		}

		idx := q.free[len(q.free)-1]
		q.free = q.free[:len(q.free)-1]

		addr, buf := q.region.Reserve(size, 0)

		flags := uint16(0)
		if write {
			flags |= packedFlagWrite
		}

		q.descs[idx] = packedDescriptor{addr: addr, size: uint32(size), flags: flags, slice: buf}
		bufs = append(bufs, buf)
		chain = append(chain, idx)
	}

	for i := 0; i < len(chain)-1; i++ {
		q.descs[chain[i]].flags |= packedFlagNext
	}

	return bufs, chain[0], true, nil
}

// PrepBuffer reserves a descriptor chain for send and/or recv and
// returns a token wrapping it.
func (q *PackedQueue) PrepBuffer(send, recv *BuffSpec) (*BufferToken, error) {
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

// push flips the head descriptor's avail bit to hand the chain to the
// device, see VIRTIO 1.2 - 2.8.6.
func (q *PackedQueue) push(tok *BufferToken) {
	q.mu.Lock()
	defer q.mu.Unlock()

	avail := packedFlagAvail
	used := 0

	if !q.wrapCounter {
		avail, used = 0, packedFlagUsed
	}

	q.descs[tok.head].flags = (q.descs[tok.head].flags &^ (packedFlagAvail | packedFlagUsed)) | uint16(avail) | uint16(used)

	q.pending[tok.head] = tok
	q.order = append(q.order, tok.head)
}

// Poll simulates draining completions in the FIFO order they were
// submitted, matching a well-behaved virtio-net device.
func (q *PackedQueue) Poll() {
	q.mu.Lock()

	completed := make([]*BufferToken, 0, len(q.order))

	for _, head := range q.order {
		if tok, ok := q.pending[head]; ok {
			completed = append(completed, tok)
			delete(q.pending, head)
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

// EnableNotifications asks the device to interrupt on completion.
func (q *PackedQueue) EnableNotifications() {
	q.mu.Lock()
	q.notifyEnabled = true
	q.mu.Unlock()
}

// DisableNotifications asks the device to stop interrupting on
// completion.
func (q *PackedQueue) DisableNotifications() {
	q.mu.Lock()
	q.notifyEnabled = false
	q.mu.Unlock()
}

// Notify kicks the device to process newly available descriptors.
func (q *PackedQueue) Notify() {
	if q.notifyFn != nil {
		q.notifyFn()
	}
}
