// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

import (
	"testing"

	"github.com/usbarmory/virtio-net/dma"
)

func TestInitNegotiatesFullFeatureSetAndDerivesChecksums(t *testing.T) {
	ft := &fakeTransport{deviceFeatures: uint64(featureSetOf(wantedFeatures))}
	dev := &fakeDeviceConfig{mac: [6]byte{0x02, 0, 0, 0, 0, 1}, mtu: 1500, pairs: 1}
	region := dma.NewRegion(1 << 20)

	d, err := Init(ft, ft, ft, dev, region, 42, 8)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if d.MAC() != dev.mac {
		t.Fatalf("MAC() = %v, want %v", d.MAC(), dev.mac)
	}

	if d.MTU() != 1500 {
		t.Fatalf("MTU() = %d, want 1500 (NET_F_MTU negotiated)", d.MTU())
	}

	caps := d.ChecksumCaps()
	if caps.TCP != ChecksumNone || caps.UDP != ChecksumNone {
		t.Fatalf("ChecksumCaps() = %+v, want both ChecksumNone (CSUM+GUEST_CSUM negotiated)", caps)
	}

	if !ft.featuresOK {
		t.Fatal("expected FEATURES_OK to have been set")
	}

	if ft.failed {
		t.Fatal("did not expect the device to be marked failed")
	}
}

func TestInitFallsBackToMinimalFeatureSet(t *testing.T) {
	// Only the minimal required features are offered; the driver must
	// retry negotiation with the reduced set instead of failing outright.
	ft := &fakeTransport{deviceFeatures: uint64(featureSetOf(minimalFeatures))}
	dev := &fakeDeviceConfig{mac: [6]byte{0x02, 0, 0, 0, 0, 2}, mtu: 1500, pairs: 1}
	region := dma.NewRegion(1 << 20)

	d, err := Init(ft, ft, ft, dev, region, 7, 4)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if d.MTU() != defaultMTU {
		t.Fatalf("MTU() = %d, want default %d (NET_F_MTU not negotiated)", d.MTU(), defaultMTU)
	}

	caps := d.ChecksumCaps()
	if caps.TCP != ChecksumBoth || caps.UDP != ChecksumBoth {
		t.Fatalf("ChecksumCaps() = %+v, want both ChecksumBoth (no checksum feature negotiated)", caps)
	}
}

func TestInitFailsBelowMinimalFeatureSet(t *testing.T) {
	// The device doesn't even offer VIRTIO_NET_F_MAC: negotiation has no
	// floor to fall back to and must fail.
	ft := &fakeTransport{deviceFeatures: uint64(featureSetOf([]int{F_VERSION_1}))}
	dev := &fakeDeviceConfig{mac: [6]byte{0x02, 0, 0, 0, 0, 3}, mtu: 1500, pairs: 1}
	region := dma.NewRegion(1 << 20)

	if _, err := Init(ft, ft, ft, dev, region, 1, 4); err == nil {
		t.Fatal("expected Init to fail when the device can't satisfy the minimal feature set")
	}

	if !ft.failed {
		t.Fatal("expected the device to be marked failed")
	}
}

func TestInitCsumOnlyYieldsRxChecksumResponsibility(t *testing.T) {
	ft := &fakeTransport{deviceFeatures: uint64(featureSetOf([]int{F_VERSION_1, NET_F_MAC, NET_F_CSUM}))}
	dev := &fakeDeviceConfig{mac: [6]byte{0x02, 0, 0, 0, 0, 4}, mtu: 1500, pairs: 1}
	region := dma.NewRegion(1 << 20)

	d, err := Init(ft, ft, ft, dev, region, 3, 4)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	caps := d.ChecksumCaps()
	if caps.TCP != ChecksumRx || caps.UDP != ChecksumRx {
		t.Fatalf("ChecksumCaps() = %+v, want both ChecksumRx (CSUM only negotiated)", caps)
	}
}

func TestInitGuestCsumOnlyYieldsTxChecksumResponsibility(t *testing.T) {
	ft := &fakeTransport{deviceFeatures: uint64(featureSetOf([]int{F_VERSION_1, NET_F_MAC, NET_F_GUEST_CSUM}))}
	dev := &fakeDeviceConfig{mac: [6]byte{0x02, 0, 0, 0, 0, 5}, mtu: 1500, pairs: 1}
	region := dma.NewRegion(1 << 20)

	d, err := Init(ft, ft, ft, dev, region, 9, 4)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	caps := d.ChecksumCaps()
	if caps.TCP != ChecksumTx || caps.UDP != ChecksumTx {
		t.Fatalf("ChecksumCaps() = %+v, want both ChecksumTx (GUEST_CSUM only negotiated)", caps)
	}
}

func TestInitUsesPackedQueuesWhenNegotiated(t *testing.T) {
	ft := &fakeTransport{deviceFeatures: uint64(featureSetOf([]int{F_VERSION_1, NET_F_MAC, F_RING_PACKED}))}
	dev := &fakeDeviceConfig{mac: [6]byte{0x02, 0, 0, 0, 0, 6}, mtu: 1500, pairs: 1}
	region := dma.NewRegion(1 << 20)

	d, err := Init(ft, ft, ft, dev, region, 11, 4)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if !d.features.IsFeature(F_RING_PACKED) {
		t.Fatal("expected F_RING_PACKED to have been negotiated")
	}
}

func TestInitCapsQueueSizeToDeviceMax(t *testing.T) {
	ft := &fakeTransport{deviceFeatures: uint64(featureSetOf(minimalFeatures))}
	dev := &fakeDeviceConfig{mac: [6]byte{0x02, 0, 0, 0, 0, 7}, mtu: 1500, pairs: 1}
	region := dma.NewRegion(1 << 20)

	// fakeTransport.QueueMaxSize always reports 64; request far more and
	// confirm Init (and the queue set it builds) doesn't fail or hang
	// trying to post more buffers than the device allows.
	d, err := Init(ft, ft, ft, dev, region, 5, 4096)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if d.rx.vqs[0].Size() != 64 {
		t.Fatalf("rx queue size = %d, want 64 (capped by QueueMaxSize)", d.rx.vqs[0].Size())
	}
}
