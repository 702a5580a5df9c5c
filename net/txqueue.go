// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import "github.com/usbarmory/virtio-net/queue"

// maxGSOBufferBody is the largest TX buffer body this driver will ever
// request, large enough to hold a maximally segmented TCP/UDP datagram
// when GSO/UFO offload features have been negotiated.
const maxGSOBufferBody = 65550

// TxQueueSet manages transmission: a pool of pre-initialised, zeroed
// buffers ready to be filled, and a completion channel for reclaiming
// buffers once the device has consumed them.
type TxQueueSet struct {
	vqs     []queue.Virtqueue
	ch      chan *queue.BufferToken
	ready   []*queue.BufferToken
	isMulti bool
}

// NewTxQueueSet returns an empty transmit queue set.
func NewTxQueueSet() *TxQueueSet {
	return &TxQueueSet{}
}

// Add registers vq with the transmit set. Only the first queue added
// carries traffic and is pre-populated with ready buffers; additional
// queues are created and kept quiescent, as this driver never issues
// VIRTIO_NET_CTRL_MQ to steer traffic across them.
func (s *TxQueueSet) Add(vq queue.Virtqueue, mtu uint16, features FeatureSet) error {
	s.vqs = append(s.vqs, vq)
	s.isMulti = len(s.vqs) > 1

	if len(s.vqs) > 1 {
		return nil
	}

	bufSize := HeaderSize + int(mtu)
	if features.IsFeature(NET_F_GUEST_TSO4) || features.IsFeature(NET_F_GUEST_TSO6) || features.IsFeature(NET_F_GUEST_UFO) {
		bufSize = HeaderSize + maxGSOBufferBody
	}

	if s.ch == nil {
		s.ch = make(chan *queue.BufferToken, int(vq.Size())*MaxNumVQ)
	}

	spec := queue.Single(bufSize)
	zero := (&Header{}).Bytes()

	for i := uint16(0); i < vq.Size(); i++ {
		tok, err := vq.PrepBuffer(spec, nil)
		if err != nil {
			return &QueueSetupError{Index: 0, Reason: err.Error()}
		}

		tok.WriteHeader(zero, nil)
		s.ready = append(s.ready, tok)
	}

	return nil
}

func (s *TxQueueSet) poll() {
	if s.isMulti {
		for _, vq := range s.vqs {
			vq.Poll()
		}
		return
	}

	s.vqs[0].Poll()
}

func matchSize(tok *queue.BufferToken, length int) (*queue.BufferToken, error) {
	sendLen, _ := tok.Len()

	if sendLen == length {
		return tok, nil
	}

	if err := tok.RestrictSize(&length, nil); err != nil {
		return nil, err
	}

	return tok, nil
}

// get selects a transmit token of at least length bytes: first from the
// ready pool (undersized tokens are discarded, matching the upstream
// driver's pop-until-fit ready queue), then from completed
// transmissions reclaimed off the completion channel, and finally by
// allocating a fresh descriptor chain from the main queue.
func (s *TxQueueSet) get(length int) (*queue.BufferToken, error) {
	for len(s.ready) > 0 {
		tok := s.ready[len(s.ready)-1]
		s.ready = s.ready[:len(s.ready)-1]

		sendLen, _ := tok.Len()
		if sendLen < length {
			continue
		}

		return matchSize(tok, length)
	}

	if len(s.ch) == 0 {
		s.poll()
	}

drain:
	for {
		select {
		case tok := <-s.ch:
			tok = tok.Reset()

			sendLen, _ := tok.Len()
			if sendLen < length {
				continue drain
			}

			return matchSize(tok, length)
		default:
			break drain
		}
	}

	return s.vqs[0].PrepBuffer(queue.Single(length), nil)
}
