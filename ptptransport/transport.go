/*Package ptptransport provides the transport capability interfaces that
ptpengine drives, and concrete USB-bulk and PTP/IP-TCP implementations.

Grounded on spec.md §4.4/§9's guidance to model the transport as a
capability interface rather than branching on a connection-type tag at
every call site (camlib's backend.c branches on r->connection_type
throughout; this package inlines that dispatch once, at construction).
*/
package ptptransport

import "io"

// Channel is the command-phase read/write capability every transport
// variant must provide.  Read may return fewer than len(into) bytes
// ("short reads legal" per spec.md §6); Write may likewise accept fewer
// than len(b) bytes, and ptpengine loops until the full slice is accepted
// or an error occurs, matching camlib's ptp_send_bulk_packets.
type Channel interface {
	io.Closer

	// Write sends bytes to the device and returns how many were written,
	// or a negative-length error contract surfaced as a non-nil error.
	Write(b []byte) (int, error)

	// Read reads up to len(into) bytes from the device.
	Read(into []byte) (int, error)

	// MaxPacketSize is the transport-dictated read unit (spec.md §3).
	MaxPacketSize() int
}

// EventChannel is the auxiliary PTP/IP event socket capability.  USB
// transports do not implement this; only IP does. ptpengine does not use it.
type EventChannel interface {
	EventWrite(b []byte) (int, error)
	EventRead(into []byte) (int, error)
}

// Kind identifies which concrete Channel variant an engine is driving.
// ptpengine branches on it to pick PTP/IP or USB data-phase framing and
// receive logic, and to enable the hybrid's event-spill check.
type Kind int

const (
	// KindUSB is a native USB bulk transport.
	KindUSB Kind = iota
	// KindIP is a PTP/IP TCP transport (command + event sockets).
	KindIP
	// KindIPOverUSB is PTP/IP framing carried over a USB bulk pipe, per
	// spec.md §4.5's hybrid receive-loop event-spill check.
	KindIPOverUSB
)

// Kinder is implemented by every Channel so the engine can select
// phase-appropriate receive logic without a type switch on concrete types.
type Kinder interface {
	Kind() Kind
}
