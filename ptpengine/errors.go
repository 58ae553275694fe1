package ptpengine

import "errors"

var (
	// ErrKilled is returned by any I/O entry point once the kill switch has
	// been engaged (engine torn down), spec.md §3/§5.
	ErrKilled = errors.New("ptpengine: kill switch engaged")

	// ErrOutOfMemory marks a buffer-growth or receive-capacity failure,
	// wrapped with more specific context at each call site.
	ErrOutOfMemory = errors.New("ptpengine: out of memory")

	// ErrFraming marks an unexpected PTP/IP packet type at a given phase,
	// spec.md §7 "Framing".
	ErrFraming = errors.New("ptpengine: unexpected packet framing")

	// ErrIOShutdown marks the PTP/IP-over-USB hybrid shutdown event spill
	// (marker 0xFFFFFFFF on the command pipe), spec.md §7.
	ErrIOShutdown = errors.New("ptpengine: shutdown event received on command pipe")

	// ErrIOUnexpectedEvent marks any other event read on the command pipe
	// in the hybrid transport, spec.md §7.
	ErrIOUnexpectedEvent = errors.New("ptpengine: unexpected event received on command pipe")
)
