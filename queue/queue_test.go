// VirtIO virtqueue management
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package queue

import (
	"testing"

	"github.com/usbarmory/virtio-net/dma"
)

func TestSplitQueuePrepBufferAndFIFOCompletion(t *testing.T) {
	region := dma.NewRegion(1 << 20)

	var notified int
	vq := NewSplitQueue(region, 4, func() { notified++ })

	ch := make(chan *BufferToken, 4)

	var tokens []*BufferToken

	for i := 0; i < 3; i++ {
		tok, err := vq.PrepBuffer(Single(64), nil)
		if err != nil {
			t.Fatalf("PrepBuffer: %v", err)
		}

		tok.Provide().DispatchAwait(ch, false)
		tokens = append(tokens, tok)
	}

	vq.Notify()

	if notified != 1 {
		t.Fatalf("notified = %d, want 1", notified)
	}

	vq.Poll()

	for i, want := range tokens {
		select {
		case got := <-ch:
			if got != want {
				t.Fatalf("completion %d out of order", i)
			}
		default:
			t.Fatalf("completion %d missing", i)
		}
	}
}

func TestPackedQueuePrepBufferAndFIFOCompletion(t *testing.T) {
	region := dma.NewRegion(1 << 20)
	vq := NewPackedQueue(region, 4, nil)

	ch := make(chan *BufferToken, 4)

	var tokens []*BufferToken

	for i := 0; i < 3; i++ {
		tok, err := vq.PrepBuffer(Single(64), nil)
		if err != nil {
			t.Fatalf("PrepBuffer: %v", err)
		}

		tok.Provide().DispatchAwait(ch, false)
		tokens = append(tokens, tok)
	}

	vq.Poll()

	for i, want := range tokens {
		select {
		case got := <-ch:
			if got != want {
				t.Fatalf("completion %d out of order", i)
			}
		default:
			t.Fatalf("completion %d missing", i)
		}
	}
}

func TestPrepBufferSendAndRecv(t *testing.T) {
	region := dma.NewRegion(1 << 20)
	vq := NewSplitQueue(region, 4, nil)

	tok, err := vq.PrepBuffer(Single(16), Single(32))
	if err != nil {
		t.Fatalf("PrepBuffer: %v", err)
	}

	send, recv := tok.Len()
	if send != 16 || recv != 32 {
		t.Fatalf("Len() = (%d, %d), want (16, 32)", send, recv)
	}
}

func TestRestrictSizeRejectsOversizedLimit(t *testing.T) {
	region := dma.NewRegion(1 << 20)
	vq := NewSplitQueue(region, 4, nil)

	tok, err := vq.PrepBuffer(Single(16), nil)
	if err != nil {
		t.Fatalf("PrepBuffer: %v", err)
	}

	big := 17
	if err := tok.RestrictSize(&big, nil); err == nil {
		t.Fatal("expected RestrictSize to reject a limit larger than capacity")
	}

	small := 10
	if err := tok.RestrictSize(&small, nil); err != nil {
		t.Fatalf("unexpected error restricting to a smaller size: %v", err)
	}

	send, _ := tok.Len()
	if send != 10 {
		t.Fatalf("Len() send = %d, want 10", send)
	}

	tok.Reset()

	send, _ = tok.Len()
	if send != 16 {
		t.Fatalf("Len() after Reset = %d, want 16", send)
	}
}

func TestSplitQueueOutOfDescriptors(t *testing.T) {
	region := dma.NewRegion(1 << 20)
	vq := NewSplitQueue(region, 2, nil)

	if _, err := vq.PrepBuffer(Single(8), nil); err != nil {
		t.Fatalf("PrepBuffer 1: %v", err)
	}

	if _, err := vq.PrepBuffer(Single(8), nil); err != nil {
		t.Fatalf("PrepBuffer 2: %v", err)
	}

	if _, err := vq.PrepBuffer(Single(8), nil); err == nil {
		t.Fatal("expected an error once the ring runs out of descriptors")
	}
}
