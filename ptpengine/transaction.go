package ptpengine

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nasa-jpl/ptpgo/ptppacket"
	"github.com/nasa-jpl/ptpgo/ptptransport"
	"github.com/nasa-jpl/ptpgo/ptpwire"
)

// firstReadRetryDelay is the fixed back-off before the single retry of a
// failed first USB read, spec.md §4.5 receive_bulk (USB).
const firstReadRetryDelay = 100 * time.Millisecond

// Status is the surface-level transaction outcome vocabulary, spec.md §6/§7.
type Status int

// Status values.
const (
	StatusOK Status = iota
	StatusCheckCode
	StatusIOErr
	StatusOutOfMemory
	StatusRuntimeErr
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusCheckCode:
		return "CHECK_CODE"
	case StatusIOErr:
		return "IO_ERR"
	case StatusOutOfMemory:
		return "OUT_OF_MEM"
	case StatusRuntimeErr:
		return "RUNTIME_ERR"
	default:
		return "UNKNOWN"
	}
}

// Transaction is the ephemeral per-call operation descriptor, spec.md §3.
type Transaction struct {
	Code        uint16
	Params      [ptppacket.MaxParams]uint32
	ParamLength int
}

func (t Transaction) params() []uint32 {
	if t.ParamLength <= 0 {
		return nil
	}
	return t.Params[:t.ParamLength]
}

// Session is a scoped transaction handle returned by the *KeepLocked
// entry points on success: it holds the engine's lock so the caller can
// inspect the buffer atomically with the transaction that produced it.
// This replaces camlib's caller_unlocks_mutex boolean side channel, per
// spec.md §9's re-architecture guidance.
type Session struct {
	e *Engine
}

// ReturnCode reads the still-locked buffer's response return code.
func (s *Session) ReturnCode() uint16 { return ptppacket.ReturnCode(s.e.buf) }

// Payload reads the still-locked buffer's data-phase payload.
func (s *Session) Payload() []byte { return ptppacket.Payload(s.e.buf) }

// Param reads the still-locked buffer's response parameter index (0-4).
func (s *Session) Param(index int) uint32 { return ptppacket.Param(s.e.buf, index) }

// Release unlocks the engine. It must be called exactly once, and the
// Session must not be used afterward.
func (s *Session) Release() { s.e.mu.Unlock() }

// Send performs a command-only transaction (spec.md §4.5(a)).
func (e *Engine) Send(cmd Transaction) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendLocked(cmd)
}

// SendKeepLocked behaves like Send, but on success returns a Session
// holding the lock instead of releasing it immediately.
func (e *Engine) SendKeepLocked(cmd Transaction) (*Session, Status, error) {
	e.mu.Lock()
	st, err := e.sendLocked(cmd)
	if st != StatusOK {
		e.mu.Unlock()
		return nil, st, err
	}
	return &Session{e: e}, st, err
}

// SendData performs a command-with-data-phase transaction (spec.md §4.5(b)).
func (e *Engine) SendData(cmd Transaction, data []byte) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendDataLocked(cmd, data)
}

// SendDataKeepLocked is the send_data analog of SendKeepLocked.
func (e *Engine) SendDataKeepLocked(cmd Transaction, data []byte) (*Session, Status, error) {
	e.mu.Lock()
	st, err := e.sendDataLocked(cmd, data)
	if st != StatusOK {
		e.mu.Unlock()
		return nil, st, err
	}
	return &Session{e: e}, st, err
}

func (e *Engine) sendLocked(cmd Transaction) (Status, error) {
	if e.killed {
		return StatusIOErr, ErrKilled
	}
	e.dataPhaseLength = 0

	needed := ptppacket.BulkHeaderSize + 4*cmd.ParamLength
	if err := e.ensureCapacityLocked(needed); err != nil {
		return StatusOutOfMemory, err
	}

	length := ptppacket.BuildCommand(e.buf, cmd.Code, e.transaction, cmd.params())
	if err := e.sendBulkLocked(length); err != nil {
		return StatusIOErr, err
	}
	e.logger.Printf("ptpengine: sent command 0x%04x, transaction %d", cmd.Code, e.transaction)

	if _, err := e.receiveBulkLocked(); err != nil {
		if errors.Is(err, ErrOutOfMemory) {
			return StatusOutOfMemory, err
		}
		return StatusIOErr, err
	}

	e.transaction++
	if cmd.Code == opOpenSession {
		e.session++
	}

	rc := ptppacket.ReturnCode(e.buf)
	if rc == rcOK {
		return StatusOK, nil
	}
	e.logger.Printf("ptpengine: device returned check code 0x%04x for command 0x%04x", rc, cmd.Code)
	return StatusCheckCode, fmt.Errorf("ptpengine: device returned check code 0x%04x", rc)
}

func (e *Engine) sendDataLocked(cmd Transaction, data []byte) (Status, error) {
	if e.killed {
		return StatusIOErr, ErrKilled
	}
	e.dataPhaseLength = len(data)

	// "These numbers are not exact, but it's fine" — camlib's send_data
	// buffer-growth heuristic, kept verbatim.
	if len(data)+50 > len(e.buf) {
		if err := e.ensureCapacityLocked(len(data) + 100); err != nil {
			return StatusOutOfMemory, err
		}
	}

	cmdNeeded := ptppacket.BulkHeaderSize + 4*cmd.ParamLength
	if err := e.ensureCapacityLocked(cmdNeeded); err != nil {
		return StatusOutOfMemory, err
	}
	cmdLen := ptppacket.BuildCommand(e.buf, cmd.Code, e.transaction, cmd.params())
	if err := e.sendBulkLocked(cmdLen); err != nil {
		return StatusIOErr, err
	}

	if e.isIPLocked() {
		startLen := ptppacket.BuildDataStart(e.buf, e.transaction, uint32(len(data)))
		if err := e.sendBulkLocked(startLen); err != nil {
			return StatusIOErr, err
		}

		endNeeded := ptppacket.IPHeaderSize + 4 + len(data)
		if err := e.ensureCapacityLocked(endNeeded); err != nil {
			return StatusOutOfMemory, err
		}
		endLen := ptppacket.BuildDataEnd(e.buf, e.transaction, data)
		if err := e.sendBulkLocked(endLen); err != nil {
			return StatusIOErr, err
		}
	} else {
		needed := ptppacket.BulkHeaderSize + len(data)
		if err := e.ensureCapacityLocked(needed); err != nil {
			return StatusOutOfMemory, err
		}
		hdrLen := ptppacket.BuildData(e.buf, cmd.Code, e.transaction, nil, len(data))
		copy(e.buf[hdrLen:], data)
		if err := e.sendBulkLocked(hdrLen + len(data)); err != nil {
			return StatusIOErr, err
		}
	}

	if _, err := e.receiveBulkLocked(); err != nil {
		if errors.Is(err, ErrOutOfMemory) {
			return StatusOutOfMemory, err
		}
		return StatusIOErr, err
	}

	e.transaction++

	rc := ptppacket.ReturnCode(e.buf)
	if rc == rcOK {
		return StatusOK, nil
	}
	return StatusCheckCode, fmt.Errorf("ptpengine: device returned check code 0x%04x", rc)
}

// sendBulkLocked loop-writes buf[:length] through the transport until the
// full length has been acknowledged, spec.md §4.5(c).
func (e *Engine) sendBulkLocked(length int) error {
	sent := 0
	for sent < length {
		n, err := e.transport.Write(e.buf[sent:length])
		if err != nil {
			return fmt.Errorf("ptpengine: send_bulk: %w", err)
		}
		if n <= 0 {
			return fmt.Errorf("ptpengine: send_bulk: non-positive write of %d bytes", n)
		}
		sent += n
	}
	return nil
}

func (e *Engine) isIPLocked() bool {
	k, ok := e.transport.(ptptransport.Kinder)
	return ok && k.Kind() == ptptransport.KindIP
}

func (e *Engine) isHybridLocked() bool {
	k, ok := e.transport.(ptptransport.Kinder)
	return ok && k.Kind() == ptptransport.KindIPOverUSB
}

// receiveBulkLocked dispatches to the USB or PTP/IP receive algorithm
// based on the transport's kind, spec.md §4.5.
func (e *Engine) receiveBulkLocked() (int, error) {
	if e.isIPLocked() {
		return e.receiveBulkIPLocked()
	}
	return e.receiveBulkUSBLocked()
}

// receiveBulkUSBLocked implements the USB receive_bulk algorithm: loop
// reading up to max_packet_size bytes, retrying the first failed read
// once after 100ms, checking for the hybrid's event-spill marker, and
// stopping on a short read. If the first container is a DATA container,
// one more read is issued to pick up the trailing response.
func (e *Engine) receiveBulkUSBLocked() (int, error) {
	maxPkt := e.maxPacketSize
	if maxPkt <= 0 {
		maxPkt = e.transport.MaxPacketSize()
	}
	hybrid := e.isHybridLocked()

	read := 0
	first := true
	for {
		if read+maxPkt > len(e.buf) {
			return 0, fmt.Errorf("ptpengine: receive_bulk: %w", ErrOutOfMemory)
		}

		n, err := e.transport.Read(e.buf[read : read+maxPkt])
		if err != nil && first {
			e.logger.Printf("ptpengine: first receive failed, retrying once: %v", err)
			time.Sleep(firstReadRetryDelay)
			n, err = e.transport.Read(e.buf[read : read+maxPkt])
		}
		if err != nil {
			return 0, fmt.Errorf("ptpengine: receive_bulk: %w", err)
		}

		if first && hybrid && n > 0 {
			if serr := checkEventSpill(e.buf[:n]); serr != nil {
				return 0, serr
			}
		}
		first = false
		read += n

		if read >= len(e.buf)-maxPkt {
			return 0, fmt.Errorf("ptpengine: receive_bulk: %w", ErrOutOfMemory)
		}

		if n != maxPkt {
			c := ptppacket.ParseBulk(e.buf)
			if c.Type == ptppacket.TypeData {
				if read+maxPkt > len(e.buf) {
					return 0, fmt.Errorf("ptpengine: receive_bulk: %w", ErrOutOfMemory)
				}
				extra, err := e.transport.Read(e.buf[read : read+maxPkt])
				if err != nil {
					return 0, fmt.Errorf("ptpengine: receive trailing response: %w", err)
				}
				read += extra
			}
			e.logger.Printf("ptpengine: received %d bytes", read)
			return read, nil
		}
	}
}

// checkEventSpill implements spec.md §4.5/§7's PTP/IP-over-USB hybrid
// check: if a read on the command pipe is actually an event, any event
// other than the shutdown marker is still an error ("assume error" per
// camlib's comment; spec.md §9 leaves "skip events" as an open policy
// question this implementation resolves conservatively).
func checkEventSpill(buf []byte) error {
	if len(buf) < ptppacket.IPHeaderSize {
		return nil
	}
	h := ptppacket.ParseIPHeader(buf)
	if h.Type != ptppacket.IPEvent {
		return nil
	}
	if len(buf) >= ptppacket.IPHeaderSize+4 {
		marker := ptpwire.NewReader(buf[ptppacket.IPHeaderSize:]).Uint32()
		if marker == 0xFFFFFFFF {
			return fmt.Errorf("ptpengine: %w", ErrIOShutdown)
		}
	}
	return fmt.Errorf("ptpengine: %w", ErrIOUnexpectedEvent)
}

// receiveBulkIPLocked implements the PTP/IP receive_bulk algorithm:
// read one packet; if it is DATA_START, require DATA_END then RESPONSE;
// if it is RESPONSE, done; anything else is a framing error.
func (e *Engine) receiveBulkIPLocked() (int, error) {
	n1, err := e.readIPPacketLocked(0)
	if err != nil {
		return 0, err
	}
	h1 := ptppacket.ParseIPHeader(e.buf)

	switch h1.Type {
	case ptppacket.IPCommandResponse:
		return n1, nil
	case ptppacket.IPStartDataPacket:
		n2, err := e.readIPPacketLocked(n1)
		if err != nil {
			return 0, err
		}
		h2 := ptppacket.ParseIPHeader(e.buf[n1:])
		if h2.Type != ptppacket.IPEndDataPacket {
			return 0, fmt.Errorf("ptpengine: expected END_DATA_PACKET, got type %d: %w", h2.Type, ErrFraming)
		}

		n3, err := e.readIPPacketLocked(n1 + n2)
		if err != nil {
			return 0, err
		}
		h3 := ptppacket.ParseIPHeader(e.buf[n1+n2:])
		if h3.Type != ptppacket.IPCommandResponse {
			return 0, fmt.Errorf("ptpengine: expected COMMAND_RESPONSE, got type %d: %w", h3.Type, ErrFraming)
		}
		return n1 + n2 + n3, nil
	default:
		return 0, fmt.Errorf("ptpengine: unexpected PTP/IP packet type %d: %w", h1.Type, ErrFraming)
	}
}

// readIPPacketLocked reads one complete PTP/IP packet into buf at offset
// of: first the 8-byte length/type header, then the remaining
// length-IPHeaderSize bytes, looping on short reads. Grows the buffer as
// needed (PTP/IP, unlike USB, has no fixed capacity ceiling in spec.md §7).
func (e *Engine) readIPPacketLocked(of int) (int, error) {
	if err := e.ensureCapacityLocked(of + ptppacket.IPHeaderSize); err != nil {
		return 0, err
	}
	if _, err := e.readFullLocked(of, ptppacket.IPHeaderSize); err != nil {
		return 0, err
	}

	h := ptppacket.ParseIPHeader(e.buf[of:])
	if err := e.ensureCapacityLocked(of + int(h.Length)); err != nil {
		return 0, err
	}
	if int(h.Length) > ptppacket.IPHeaderSize {
		if _, err := e.readFullLocked(of+ptppacket.IPHeaderSize, int(h.Length)-ptppacket.IPHeaderSize); err != nil {
			return 0, err
		}
	}
	return int(h.Length), nil
}

// readFullLocked reads exactly length bytes into buf starting at offset
// of, looping on short reads (PTP/IP command-socket reads are
// "best-effort" per spec.md §4.4).
func (e *Engine) readFullLocked(of, length int) (int, error) {
	read := 0
	for read < length {
		n, err := e.transport.Read(e.buf[of+read : of+length])
		if err != nil {
			return read, fmt.Errorf("ptpengine: ptpip read: %w", err)
		}
		if n <= 0 {
			return read, fmt.Errorf("ptpengine: ptpip read: non-positive read of %d bytes", n)
		}
		read += n
	}
	return read, nil
}

// SendDataStream is the file-streamed send variant from spec.md §4.5: the
// command and data container headers are still built in the shared buffer,
// but the payload is pulled from src chunk by chunk instead of needing to
// be resident in memory up front, grounded on camlib's ptp_fsend_packets.
// Only the plain-USB data container framing is supported; PTP/IP streaming
// is left to a future extension (camlib itself marks it "TODO: Fix for IP").
func (e *Engine) SendDataStream(cmd Transaction, src io.Reader, length int) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.killed {
		return StatusIOErr, ErrKilled
	}
	if e.isIPLocked() {
		return StatusRuntimeErr, fmt.Errorf("ptpengine: streamed send is not implemented for PTP/IP transports")
	}

	e.dataPhaseLength = length

	cmdNeeded := ptppacket.BulkHeaderSize + 4*cmd.ParamLength
	if err := e.ensureCapacityLocked(cmdNeeded); err != nil {
		return StatusOutOfMemory, err
	}
	cmdLen := ptppacket.BuildCommand(e.buf, cmd.Code, e.transaction, cmd.params())
	if err := e.sendBulkLocked(cmdLen); err != nil {
		return StatusIOErr, err
	}

	hdrLen := ptppacket.BuildData(e.buf, cmd.Code, e.transaction, nil, length)
	if err := e.sendBulkLocked(hdrLen); err != nil {
		return StatusIOErr, err
	}

	maxPkt := e.maxPacketSize
	if maxPkt <= 0 {
		maxPkt = e.transport.MaxPacketSize()
	}
	if err := e.ensureCapacityLocked(maxPkt); err != nil {
		return StatusOutOfMemory, err
	}

	sent := 0
	for sent < length {
		n, rerr := src.Read(e.buf[:maxPkt])
		if n > 0 {
			if werr := e.sendBulkLocked(n); werr != nil {
				return StatusIOErr, werr
			}
			sent += n
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return StatusIOErr, fmt.Errorf("ptpengine: stream read: %w", rerr)
		}
	}

	if _, err := e.receiveBulkLocked(); err != nil {
		if errors.Is(err, ErrOutOfMemory) {
			return StatusOutOfMemory, err
		}
		return StatusIOErr, err
	}
	e.transaction++

	rc := ptppacket.ReturnCode(e.buf)
	if rc == rcOK {
		return StatusOK, nil
	}
	return StatusCheckCode, fmt.Errorf("ptpengine: device returned check code 0x%04x", rc)
}

// ReceiveStream is the file-streamed receive variant (camlib's
// ptp_frecieve_bulk_packets): incoming data-phase payload bytes are
// written to dst instead of retained in the shared buffer. The container
// type of the first packet is remembered so the trailing response packet
// is still consumed (into the shared buffer) after the stream ends.
func (e *Engine) ReceiveStream(dst io.Writer) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.killed {
		return StatusIOErr, ErrKilled
	}

	maxPkt := e.maxPacketSize
	if maxPkt <= 0 {
		maxPkt = e.transport.MaxPacketSize()
	}
	if err := e.ensureCapacityLocked(maxPkt); err != nil {
		return StatusOutOfMemory, err
	}

	const unknownType = 0xFFFF
	containerType := uint16(unknownType)
	read := 0
	for {
		n, err := e.transport.Read(e.buf[:maxPkt])
		if err != nil {
			return StatusIOErr, fmt.Errorf("ptpengine: receive stream: %w", err)
		}

		of := 0
		if containerType == unknownType {
			containerType = ptppacket.ParseBulk(e.buf).Type
			of = ptppacket.BulkHeaderSize
		}
		if n > of {
			if _, werr := dst.Write(e.buf[of:n]); werr != nil {
				return StatusIOErr, fmt.Errorf("ptpengine: stream write: %w", werr)
			}
		}
		read += n

		if n != maxPkt {
			if containerType == ptppacket.TypeData {
				if _, err := e.transport.Read(e.buf[:maxPkt]); err != nil {
					return StatusIOErr, fmt.Errorf("ptpengine: receive trailing response: %w", err)
				}
			}
			break
		}
	}

	e.transaction++
	rc := ptppacket.ReturnCode(e.buf)
	if rc == rcOK {
		return StatusOK, nil
	}
	return StatusCheckCode, fmt.Errorf("ptpengine: device returned check code 0x%04x", rc)
}
