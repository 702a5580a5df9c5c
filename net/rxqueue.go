// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import "github.com/usbarmory/virtio-net/queue"

// RxQueueSet manages one or more receive virtqueues: pre-posting empty
// buffers, draining completions through a shared channel, and reporting
// packet availability to the driver.
type RxQueueSet struct {
	vqs     []queue.Virtqueue
	ch      chan *queue.BufferToken
	isMulti bool
}

// NewRxQueueSet returns an empty receive queue set.
func NewRxQueueSet() *RxQueueSet {
	return &RxQueueSet{}
}

// Add registers vq with the receive set and posts a full ring of empty
// receive buffers to it, sized per VIRTIO 1.2 - 5.1.6.3: MTU plus the
// header, or the cache-line padded merged-buffer body when
// VIRTIO_NET_F_MRG_RXBUF was negotiated.
func (s *RxQueueSet) Add(vq queue.Virtqueue, mtu uint16, features FeatureSet) error {
	numBuff := vq.Size()

	rxSize := HeaderSize + int(mtu)
	if features.IsFeature(NET_F_MRG_RXBUF) {
		rxSize = alignUp(HeaderSize+mergedRxBufferBody, cachePadding)
	}

	if s.ch == nil {
		s.ch = make(chan *queue.BufferToken, int(numBuff)*MaxNumVQ)
	}

	spec := queue.Single(rxSize)

	for i := uint16(0); i < numBuff; i++ {
		tok, err := vq.PrepBuffer(nil, spec)
		if err != nil {
			return &QueueSetupError{Index: len(s.vqs), Reason: err.Error()}
		}

		tok.Provide().DispatchAwait(s.ch, false)
	}

	s.vqs = append(s.vqs, vq)
	s.isMulti = len(s.vqs) > 1

	return nil
}

func (s *RxQueueSet) poll() {
	if s.isMulti {
		for _, vq := range s.vqs {
			vq.Poll()
		}
		return
	}

	s.vqs[0].Poll()
}

// EnableNotifications asks the device to interrupt on RX completion,
// across every queue in the set.
func (s *RxQueueSet) EnableNotifications() {
	for _, vq := range s.vqs {
		vq.EnableNotifications()
	}
}

// DisableNotifications asks the device to stop interrupting on RX
// completion, across every queue in the set, used when the driver is
// switched to polling mode.
func (s *RxQueueSet) DisableNotifications() {
	for _, vq := range s.vqs {
		vq.DisableNotifications()
	}
}

// getNext returns a completed receive buffer, polling once if none is
// immediately queued, or nil if still none are available.
func (s *RxQueueSet) getNext() *queue.BufferToken {
	select {
	case tok := <-s.ch:
		return tok
	default:
	}

	s.poll()

	select {
	case tok := <-s.ch:
		return tok
	default:
		return nil
	}
}

// postProcessing is the hook for per-buffer receive bookkeeping. It is a
// passthrough today: this driver does not yet validate device-computed
// receive checksums (VIRTIO_NET_F_GUEST_CSUM), mirroring the upstream
// driver this queue management is modeled on.
func postProcessing(tok *queue.BufferToken) (*queue.BufferToken, error) {
	return tok, nil
}
