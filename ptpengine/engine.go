/*Package ptpengine implements the PTP transaction engine: session and
transaction counters, the shared send/receive buffer, the property-avail
set, and the device-info-derived queries (spec.md §3, §4.5, §4.6, §6).

Grounded on camlib's struct PtpRuntime (src/camlib.h, referenced from
lib.c/packet.c/backend.c) and on the teacher's RemoteDevice pattern
(comm/comm.go) for embedding a mutex-guarded, open/close-able device
handle.
*/
package ptpengine

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/nasa-jpl/ptpgo/ptppacket"
	"github.com/nasa-jpl/ptpgo/ptptransport"
)

// DefaultBufferSize is the initial capacity of the engine's shared
// send/receive buffer, grounded on camlib's CAMLIB_DEFAULT_SIZE.
const DefaultBufferSize = 4096

// growthSlack is added to every buffer reallocation to amortize
// subsequent growth, per camlib's ptp_buffer_resize "extra" constant.
const growthSlack = 100

// rcOK is the PTP 0x2001 success return code.
const rcOK uint16 = 0x2001

// opOpenSession is the standard PTP OpenSession opcode. The engine bumps
// its session counter on a successful OpenSession transaction; this is
// the one standard (non-vendor) opcode the core needs to recognize,
// spec.md §3's "session: ... incremented on open".
const opOpenSession uint16 = 0x1002

// eosGetStorageIDs probes for EOS-only opcode support to distinguish a
// vanilla Canon device from an EOS one, spec.md §6.
const eosGetStorageIDs uint16 = 0x9101

// PropAvail is one entry of the property-avail set, spec.md §3.
type PropAvail struct {
	Code     uint16
	ElemSize int
	Count    int
	Data     []byte
}

// DeviceType classifies the connected device by its parsed manufacturer
// string plus, for Canon, an opcode probe, spec.md §6.
type DeviceType int

// DeviceType values.
const (
	DeviceEmpty DeviceType = iota
	DeviceCanon
	DeviceEOS
	DeviceFuji
	DeviceSony
	DeviceNikon
)

func (d DeviceType) String() string {
	switch d {
	case DeviceCanon:
		return "Canon"
	case DeviceEOS:
		return "Canon EOS"
	case DeviceFuji:
		return "Fujifilm"
	case DeviceSony:
		return "Sony"
	case DeviceNikon:
		return "Nikon"
	default:
		return "unknown"
	}
}

// DeviceInfo is the subset of the PTP GetDeviceInfo dataset the engine
// needs for DeviceType/CheckOpcode/CheckProp. Full dataset parsing
// (vendor extension fields, capture formats, and so on) is a
// device-vendor-wrapper concern, out of the core's scope per spec.md §1.
type DeviceInfo struct {
	Manufacturer   string
	Model          string
	OpsSupported   []uint16
	PropsSupported []uint16
}

// Engine is one connected device's transaction state, spec.md §3.
//
// All mutable state guarded by mu: the buffer, the counters, the
// device-info pointer, and the property-avail set. A Session (see
// transaction.go) is the only way code outside this package observes the
// buffer while still holding the lock across a Send/SendData call.
type Engine struct {
	mu sync.Mutex

	transport ptptransport.Channel
	logger    *log.Logger

	buf           []byte
	maxPacketSize int

	session         uint32
	transaction     uint32
	dataPhaseLength int
	waitForResponse bool
	killed          bool

	deviceInfo *DeviceInfo
	avail      []*PropAvail
	availIndex map[uint16]int
}

// Option configures a new Engine.
type Option func(*Engine)

// WithLogger overrides the default log.Default() logger. Matches the
// verbosity of camlib's ptp_verbose_log call sites: one line per packet
// sent/received, retry, or buffer growth.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBufferSize overrides DefaultBufferSize for the initial allocation.
func WithBufferSize(n int) Option {
	return func(e *Engine) { e.buf = make([]byte, n) }
}

// New creates an engine bound to transport, ready to issue transactions.
// The transport is assumed already open (connected); New performs no I/O.
func New(transport ptptransport.Channel, opts ...Option) *Engine {
	e := &Engine{
		transport:       transport,
		logger:          log.Default(),
		waitForResponse: true,
		maxPacketSize:   transport.MaxPacketSize(),
		availIndex:      make(map[uint16]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.buf == nil {
		e.buf = make([]byte, DefaultBufferSize)
	}
	return e
}

// Reset returns the engine's counters to their just-created state and
// engages the kill switch, matching camlib's ptp_reset (disconnect path).
// Close should be called afterward to release the transport.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killed = true
	e.session = 0
	e.transaction = 0
	e.waitForResponse = true
}

// Close marks the engine dead and releases the transport.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.killed = true
	e.mu.Unlock()
	return e.transport.Close()
}

// ensureCapacityLocked grows buf to at least needed bytes, preserving the
// existing contents, adding growthSlack to amortize future growth. A
// too-large allocation is recovered as ErrOutOfMemory rather than
// crashing the process, matching camlib's realloc-failure contract.
func (e *Engine) ensureCapacityLocked(needed int) (err error) {
	if needed <= len(e.buf) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrOutOfMemory, r)
		}
	}()
	grown := make([]byte, needed+growthSlack)
	copy(grown, e.buf)
	e.buf = grown
	e.logger.Printf("ptpengine: grew io buffer to %d bytes", len(e.buf))
	return nil
}

// BufferResize grows the shared buffer to at least size bytes (plus
// slack), matching the external ptp_buffer_resize contract.
func (e *Engine) BufferResize(size int) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureCapacityLocked(size); err != nil {
		return StatusOutOfMemory, err
	}
	return StatusOK, nil
}

// SetPropAvailInfo inserts or updates a property-avail entry. Updates
// replace in place; the backing allocation is only grown when the new
// count exceeds what the entry's buffer can already hold, matching
// camlib's ptp_set_prop_avail_info realloc-only-if-needed behavior.
func (e *Engine) SetPropAvailInfo(code uint16, elemSize, count int, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	needed := elemSize * count
	if idx, ok := e.availIndex[code]; ok {
		entry := e.avail[idx]
		if cap(entry.Data) < needed {
			entry.Data = make([]byte, needed)
		} else {
			entry.Data = entry.Data[:needed]
		}
		copy(entry.Data, data[:needed])
		entry.ElemSize = elemSize
		entry.Count = count
		return
	}

	buf := make([]byte, needed)
	copy(buf, data[:needed])
	e.availIndex[code] = len(e.avail)
	e.avail = append(e.avail, &PropAvail{Code: code, ElemSize: elemSize, Count: count, Data: buf})
}

// PropAvailList returns a snapshot of the current property-avail set, in
// insertion order, for diagnostics; callers must not mutate the returned
// entries' Data slices.
func (e *Engine) PropAvailList() []PropAvail {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PropAvail, len(e.avail))
	for i, p := range e.avail {
		out[i] = *p
	}
	return out
}

// SetDeviceInfo installs the parsed device descriptor. Device-info
// parsing itself (decoding the GetDeviceInfo dataset) is a vendor-wrapper
// concern outside the core, spec.md §1; the core only stores and queries it.
func (e *Engine) SetDeviceInfo(di *DeviceInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deviceInfo = di
}

// DeviceType classifies the device by manufacturer string, probing for
// the EOS-only opcode when the manufacturer is Canon.
func (e *Engine) DeviceType() DeviceType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deviceTypeLocked()
}

func (e *Engine) deviceTypeLocked() DeviceType {
	di := e.deviceInfo
	if di == nil {
		return DeviceEmpty
	}
	switch di.Manufacturer {
	case "Canon Inc.":
		if e.checkOpcodeLocked(eosGetStorageIDs) {
			return DeviceEOS
		}
		return DeviceCanon
	case "FUJIFILM":
		return DeviceFuji
	case "Sony Corporation":
		return DeviceSony
	case "Nikon Corporation":
		return DeviceNikon
	default:
		return DeviceEmpty
	}
}

// CheckOpcode reports whether op appears in the device's supported
// operations list.
func (e *Engine) CheckOpcode(op uint16) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkOpcodeLocked(op)
}

func (e *Engine) checkOpcodeLocked(op uint16) bool {
	if e.deviceInfo == nil {
		return false
	}
	for _, o := range e.deviceInfo.OpsSupported {
		if o == op {
			return true
		}
	}
	return false
}

// CheckProp reports whether code appears in the device's supported
// properties list.
func (e *Engine) CheckProp(code uint16) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deviceInfo == nil {
		return false
	}
	for _, p := range e.deviceInfo.PropsSupported {
		if p == code {
			return true
		}
	}
	return false
}

// ReturnCode reads the return code of the most recent transaction's
// response container.
func (e *Engine) ReturnCode() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ptppacket.ReturnCode(e.buf)
}

// Payload returns the data-phase payload of the most recent transaction,
// or nil if that transaction carried no data phase.
func (e *Engine) Payload() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ptppacket.Payload(e.buf)
}

// Param returns response parameter index (0-4) of the most recent
// transaction.
func (e *Engine) Param(index int) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ptppacket.Param(e.buf, index)
}

// DumpBuffer writes the full contents of the shared buffer to w, matching
// camlib's ptp_dump diagnostic helper.
func (e *Engine) DumpBuffer(w io.Writer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := w.Write(e.buf)
	return err
}

// Session returns the current PTP session identifier.
func (e *Engine) Session() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// TransactionID returns the current transaction counter.
func (e *Engine) TransactionID() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transaction
}
