// Bitwise helpers for MMIO/PCI register access
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package bits

import "testing"

func TestIsSet(t *testing.T) {
	v := uint32(0)

	if IsSet(&v, 3) {
		t.Fatal("expected bit 3 to be clear")
	}

	Set(&v, 3)

	if !IsSet(&v, 3) {
		t.Fatal("expected bit 3 to be set")
	}

	Clear(&v, 3)

	if IsSet(&v, 3) {
		t.Fatal("expected bit 3 to be clear after Clear")
	}
}

func TestSetToAndGetN(t *testing.T) {
	v := uint32(0)

	SetTo(&v, 5, true)

	if !IsSet(&v, 5) {
		t.Fatal("expected bit 5 to be set")
	}

	SetTo(&v, 5, false)

	if IsSet(&v, 5) {
		t.Fatal("expected bit 5 to be clear")
	}

	SetN(&v, 4, 0xf, 0xa)

	if got := GetN(&v, 4, 0xf); got != 0xa {
		t.Fatalf("GetN = %#x, want 0xa", got)
	}
}
