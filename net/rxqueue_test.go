// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import (
	"testing"

	"github.com/usbarmory/virtio-net/dma"
	"github.com/usbarmory/virtio-net/queue"
)

func TestRxQueueSetAddPostsAFullRingOfBuffers(t *testing.T) {
	region := dma.NewRegion(1 << 20)
	vq := queue.NewSplitQueue(region, 4, nil)

	s := NewRxQueueSet()

	if err := s.Add(vq, 1500, FeatureSet(0)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if got := vq.Size(); got != 4 {
		t.Fatalf("queue size = %d, want 4", got)
	}

	// Every posted buffer should be reclaimable once the (fake) device
	// has completed the ring.
	vq.Poll()

	if got := len(s.ch); got != 4 {
		t.Fatalf("pending completions = %d, want 4", got)
	}
}

func TestRxQueueSetAddSizesBuffersForMergedRxBuf(t *testing.T) {
	region := dma.NewRegion(1 << 20)
	vq := queue.NewSplitQueue(region, 2, nil)

	s := NewRxQueueSet()
	features := FeatureSet(0).Set(NET_F_MRG_RXBUF)

	if err := s.Add(vq, 1500, features); err != nil {
		t.Fatalf("Add: %v", err)
	}

	vq.Poll()

	tok := <-s.ch
	_, recv, err := tok.Slices()
	if err != nil {
		t.Fatalf("Slices: %v", err)
	}

	want := alignUp(HeaderSize+mergedRxBufferBody, cachePadding)
	if got := len(recv[0]); got != want {
		t.Fatalf("recv buffer size = %d, want %d (merged-buffer body, cache-padded)", got, want)
	}
}

func TestRxQueueSetGetNextDrainsThePendingChannel(t *testing.T) {
	region := dma.NewRegion(1 << 20)
	vq := queue.NewSplitQueue(region, 2, nil)

	s := NewRxQueueSet()
	if err := s.Add(vq, 1500, FeatureSet(0)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if tok := s.getNext(); tok == nil {
		t.Fatal("expected getNext to poll the ring and return a completed buffer")
	}
}
