// VirtIO network device driver
// https://github.com/usbarmory/virtio-net
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

// fakeTransport is a minimal in-memory stand-in for transport.CommonConfig,
// transport.IsrStatus and transport.NotifCfg, enough to drive Init and
// Driver.HandleInterrupt without a real MMIO or PCI register window.
type fakeTransport struct {
	deviceFeatures uint64
	driverFeatures uint64
	featuresOK     bool
	failed         bool

	interrupt    bool
	configChange bool
	acked        int

	notifyCalls []int
}

func (f *fakeTransport) ResetDevice()                                       {}
func (f *fakeTransport) AckDevice()                                         {}
func (f *fakeTransport) SetDriver()                                         {}
func (f *fakeTransport) DeviceFeatures() uint64                             { return f.deviceFeatures }
func (f *fakeTransport) SetDriverFeatures(features uint64)                  { f.driverFeatures = features }
func (f *fakeTransport) SetFeaturesOK()                                     { f.featuresOK = true }
func (f *fakeTransport) CheckFeaturesOK() bool                              { return f.featuresOK }
func (f *fakeTransport) SetDriverOK()                                       {}
func (f *fakeTransport) SetFailed()                                        { f.failed = true }
func (f *fakeTransport) QueueMaxSize(index int) int                         { return 64 }
func (f *fakeTransport) SetQueueSize(index, size int)                       {}
func (f *fakeTransport) SetQueueAddresses(index int, desc, driver, device uint64) {}
func (f *fakeTransport) QueueReady(index int) bool                          { return true }

func (f *fakeTransport) IsInterrupt() bool    { return f.interrupt }
func (f *fakeTransport) IsConfigChange() bool { return f.configChange }
func (f *fakeTransport) Acknowledge()         { f.acked++ }

func (f *fakeTransport) Notify(index int) { f.notifyCalls = append(f.notifyCalls, index) }

// fakeDeviceConfig is a minimal transport.DeviceConfig stand-in.
type fakeDeviceConfig struct {
	mac  [6]byte
	mtu  uint16
	pairs uint16
}

func (d *fakeDeviceConfig) MAC() [6]byte           { return d.mac }
func (d *fakeDeviceConfig) Status() uint16         { return StatusLinkUp }
func (d *fakeDeviceConfig) MaxVirtqueuePairs() uint16 { return d.pairs }
func (d *fakeDeviceConfig) MTU() uint16            { return d.mtu }
