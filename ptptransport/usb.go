package ptptransport

import (
	"fmt"

	"github.com/google/gousb"
)

// defaultMaxPacketSize is used when the endpoint's descriptor does not
// expose a usable wMaxPacketSize (the high-speed bulk default).
const defaultMaxPacketSize = 512

// defaultInEndpoint/defaultOutEndpoint are the bulk endpoint numbers a PTP
// USB interface exposes. Most PTP devices use endpoint 1 IN and endpoint 2
// OUT with a separate interrupt IN for
// events; some expose different numbers, so callers may override via
// OpenUSBWithEndpoints.
const (
	defaultInEndpoint  = 1
	defaultOutEndpoint = 2
)

// USB is a Channel backed by a real USB bulk pipe, grounded on the
// teacher's usbtmc.USBDevice (github.com/google/gousb OpenDeviceWithVIDPID
// / SetAutoDetach / DefaultInterface / In|OutEndpoint sequence).
type USB struct {
	ctx     *gousb.Context
	device  *gousb.Device
	iface   *gousb.Interface
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
	release func()
	maxPkt  int
}

// OpenUSB opens the first device matching vid/pid, claims its default
// interface, and binds to the conventional PTP bulk endpoints (1 IN, 2
// OUT). Call Close to release the device and USB context.
func OpenUSB(vid, pid uint16) (*USB, error) {
	return OpenUSBWithEndpoints(vid, pid, defaultInEndpoint, defaultOutEndpoint)
}

// OpenUSBWithEndpoints is OpenUSB with explicit endpoint numbers, for
// devices that deviate from the conventional PTP endpoint layout.
func OpenUSBWithEndpoints(vid, pid uint16, inEP, outEP int) (*USB, error) {
	u := &USB{ctx: gousb.NewContext()}

	dev, err := u.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		u.ctx.Close()
		return nil, fmt.Errorf("ptptransport: open device %04x:%04x: %w", vid, pid, err)
	}
	if dev == nil {
		u.ctx.Close()
		return nil, fmt.Errorf("ptptransport: no device matching %04x:%04x", vid, pid)
	}
	u.device = dev

	if err := u.device.SetAutoDetach(true); err != nil {
		u.Close()
		return nil, fmt.Errorf("ptptransport: set auto detach: %w", err)
	}

	iface, release, err := u.device.DefaultInterface()
	if err != nil {
		u.Close()
		return nil, fmt.Errorf("ptptransport: claim default interface: %w", err)
	}
	u.iface, u.release = iface, release

	u.in, err = u.iface.InEndpoint(inEP)
	if err != nil {
		u.Close()
		return nil, fmt.Errorf("ptptransport: bind in-endpoint %d: %w", inEP, err)
	}
	u.out, err = u.iface.OutEndpoint(outEP)
	if err != nil {
		u.Close()
		return nil, fmt.Errorf("ptptransport: bind out-endpoint %d: %w", outEP, err)
	}

	u.maxPkt = u.in.Desc.MaxPacketSize
	if u.maxPkt <= 0 {
		u.maxPkt = defaultMaxPacketSize
	}
	return u, nil
}

// Write sends b to the bulk-OUT endpoint.
func (u *USB) Write(b []byte) (int, error) {
	return u.out.Write(b)
}

// Read reads one bulk-IN packet into into, up to MaxPacketSize bytes.
func (u *USB) Read(into []byte) (int, error) {
	return u.in.Read(into)
}

// MaxPacketSize returns the bulk-IN endpoint's negotiated packet size.
func (u *USB) MaxPacketSize() int { return u.maxPkt }

// Kind reports KindUSB.
func (u *USB) Kind() Kind { return KindUSB }

// Close releases the interface, device, and USB context, in that order,
// matching usbtmc.USBDevice.Close.
func (u *USB) Close() error {
	if u.release != nil {
		u.release()
	}
	var err error
	if u.device != nil {
		err = u.device.Close()
	}
	if u.ctx != nil {
		u.ctx.Close()
	}
	return err
}
