package ptptransport

// IPOverUSB wraps a USB Channel to flag that PTP/IP framing is carried
// over the bulk pipe instead of TCP. The receive loop in ptpengine uses
// Kind() == KindIPOverUSB to enable the event-spill check from spec.md
// §4.5 (a stray PTPIP_EVENT read on the command pipe, with payload
// 0xFFFFFFFF meaning shutdown), which is meaningless for plain USB or
// plain TCP PTP/IP.
type IPOverUSB struct {
	*USB
}

// NewIPOverUSB wraps an already-open USB channel.
func NewIPOverUSB(u *USB) *IPOverUSB {
	return &IPOverUSB{USB: u}
}

// Kind reports KindIPOverUSB, overriding the embedded USB's KindUSB.
func (h *IPOverUSB) Kind() Kind { return KindIPOverUSB }
