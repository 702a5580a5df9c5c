// VirtIO virtqueue management
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package queue implements the two virtqueue ring layouts defined by
// VIRTIO 1.2 - 2.6 (split) and 2.7 (packed), behind a common Virtqueue
// contract that the net package depends on.
package queue

import "errors"

// BuffSpec describes the descriptor chain shape requested for one
// direction (send or receive) of a buffer token: one size per descriptor
// in the chain. A nil BuffSpec requests no descriptors in that direction.
type BuffSpec struct {
	Sizes []int
}

// Single returns a BuffSpec requesting a single descriptor of the given
// size, the common case for virtio-net (VIRTIO 1.2 - 5.1.6.2 point 5:
// header and data form one output descriptor).
func Single(size int) *BuffSpec {
	return &BuffSpec{Sizes: []int{size}}
}

// Virtqueue is the contract the net package depends on. Two concrete
// realisations are provided: a split-ring queue (split.go) and a
// packed-ring queue (packed.go), selected once at init time according to
// whether VIRTIO_F_RING_PACKED was negotiated.
type Virtqueue interface {
	// Size returns the number of descriptor slots in the queue.
	Size() uint16
	// PrepBuffer reserves a descriptor chain matching send/recv and
	// returns a token wrapping it. Either spec may be nil.
	PrepBuffer(send, recv *BuffSpec) (*BufferToken, error)
	// Poll drains any newly completed descriptor chains into their
	// token's dispatch channel.
	Poll()
	// EnableNotifications asks the device to interrupt on completion.
	EnableNotifications()
	// DisableNotifications asks the device to stop interrupting on
	// completion.
	DisableNotifications()
	// Notify kicks the device to process newly available descriptors.
	Notify()

	// push hands a prepared token's descriptor chain to the ring.
	// Unexported: only this package's two realisations implement it.
	push(tok *BufferToken)
}

// BufferToken is an opaque handle over one or more descriptor slots
// pre-attached to a Virtqueue with backing DMA memory.
type BufferToken struct {
	owner Virtqueue

	send [][]byte
	recv [][]byte

	sendLimit int
	recvLimit int

	ch chan<- *BufferToken

	// head identifies the token's descriptor chain to its owning ring
	// (a split-ring descriptor index or a packed-ring entry index).
	head uint16
}

func newBufferToken(owner Virtqueue, send, recv [][]byte) *BufferToken {
	return &BufferToken{
		owner:     owner,
		send:      send,
		recv:      recv,
		sendLimit: -1,
		recvLimit: -1,
	}
}

// Len returns the usable length of the send and receive chains, honouring
// any RestrictSize applied.
func (t *BufferToken) Len() (send, recv int) {
	send, recv = sumLen(t.send), sumLen(t.recv)

	if t.sendLimit >= 0 {
		send = t.sendLimit
	}

	if t.recvLimit >= 0 {
		recv = t.recvLimit
	}

	return
}

// RestrictSize shrinks the advertised length of the send and/or receive
// chains without releasing the underlying descriptors, letting a larger
// pre-allocated token serve a smaller request.
func (t *BufferToken) RestrictSize(send, recv *int) error {
	if send != nil {
		if *send > sumLen(t.send) {
			return errors.New("queue: restricted send size exceeds buffer capacity")
		}

		t.sendLimit = *send
	}

	if recv != nil {
		if *recv > sumLen(t.recv) {
			return errors.New("queue: restricted recv size exceeds buffer capacity")
		}

		t.recvLimit = *recv
	}

	return nil
}

// RawPointers exposes the raw backing slices of the descriptor chain, one
// slice per descriptor, in chain order.
func (t *BufferToken) RawPointers() (send, recv [][]byte) {
	return t.send, t.recv
}

// Slices returns the descriptor chain restricted to the lengths set by
// RestrictSize (or the full chain if unrestricted).
func (t *BufferToken) Slices() (send, recv [][]byte, err error) {
	return restrict(t.send, t.sendLimit), restrict(t.recv, t.recvLimit), nil
}

// WriteHeader copies send and recv into the head of their respective
// descriptor chains, used to pre-stamp TX buffers with a zeroed
// virtio-net header at setup time.
func (t *BufferToken) WriteHeader(send, recv []byte) *BufferToken {
	if send != nil && len(t.send) > 0 {
		copy(t.send[0], send)
	}

	if recv != nil && len(t.recv) > 0 {
		copy(t.recv[0], recv)
	}

	return t
}

// Reset clears any size restriction and returns the token to its freshly
// prepared state, ready to be provided again.
func (t *BufferToken) Reset() *BufferToken {
	t.sendLimit = -1
	t.recvLimit = -1
	return t
}

// InFlight represents a buffer token that has been handed to the device
// and is awaiting completion.
type InFlight struct {
	tok *BufferToken
}

// Provide marks the token as ready to be handed to the virtqueue ring.
func (t *BufferToken) Provide() *InFlight {
	return &InFlight{tok: t}
}

// DispatchAwait pushes the token's descriptor chain onto the ring and
// arranges for it to be sent to ch once the device completes it. If
// notify is true the device is kicked immediately, otherwise the caller
// is expected to batch and call Virtqueue.Notify separately.
func (f *InFlight) DispatchAwait(ch chan<- *BufferToken, notify bool) {
	f.tok.ch = ch
	f.tok.owner.push(f.tok)

	if notify {
		f.tok.owner.Notify()
	}
}

func sumLen(bufs [][]byte) (n int) {
	for _, b := range bufs {
		n += len(b)
	}

	return
}

func restrict(bufs [][]byte, limit int) [][]byte {
	if limit < 0 {
		return bufs
	}

	out := make([][]byte, 0, len(bufs))
	remaining := limit

	for _, b := range bufs {
		if remaining <= 0 {
			break
		}

		if len(b) > remaining {
			out = append(out, b[:remaining])
			remaining = 0
		} else {
			out = append(out, b)
			remaining -= len(b)
		}
	}

	return out
}
