package ptptransport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/nasa-jpl/ptpgo/ptppacket"
	"github.com/nasa-jpl/ptpgo/ptpwire"
)

// ipMaxRead is the per-Read buffer unit used when the caller does not cap
// it; PTP/IP reads may be short ("best-effort" per spec.md §4.4), so this
// is advisory, not a hard packet boundary like USB's max_packet_size.
const ipMaxRead = 4096

// initiatorName is the friendly name this engine advertises in the
// init-command-request, spec.md §4.2.
const initiatorName = "ptpgo"

// ErrInitFail is returned when a PTP/IP responder answers the init
// handshake with INIT_FAIL instead of an ACK, spec.md §8 scenario S5.
var ErrInitFail = errors.New("ptptransport: PTP/IP init handshake failed (INIT_FAIL)")

// dialTCPBackingOff dials addr with an exponential backoff retry policy,
// grounded on the teacher's comm.BackingOffTCPConnMaker (comm/comm2.go):
// cameras over PTP/IP sometimes refuse a connection attempt immediately
// after power-on, so failed dials are retried with exponentially growing
// waits (100ms doubling, capped at 2s) for up to 5s in total, without the
// caller needing to loop.
func dialTCPBackingOff(addr string, timeout time.Duration) (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)
	op := func() error {
		conn, err = net.DialTimeout("tcp", addr, timeout)
		return err
	}
	boErr := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      5 * time.Second,
		Clock:               backoff.SystemClock,
	})
	if boErr != nil {
		return nil, boErr
	}
	return conn, err
}

// IP is a Channel (and EventChannel) backed by the two PTP/IP TCP sockets:
// a command socket and an independent event socket, per spec.md §4.4/§5.
type IP struct {
	cmdConn   net.Conn
	eventConn net.Conn
	timeout   time.Duration
}

// DialIP opens the PTP/IP command socket (and, if eventPort != 0, the
// event socket) to host, and runs the PTP/IP init handshake on each:
// init-command-request/ack on the command socket, then
// init-event-request/ack on the event socket using the connection number
// the command socket's ack carried, per spec.md §4.2. A responder that
// answers the init-command-request with INIT_FAIL is reported as
// ErrInitFail rather than a generic I/O error. cmdPort is conventionally
// 15740.
func DialIP(host string, cmdPort, eventPort int, timeout time.Duration) (*IP, error) {
	cmdAddr := fmt.Sprintf("%s:%d", host, cmdPort)
	cmdConn, err := dialTCPBackingOff(cmdAddr, timeout)
	if err != nil {
		return nil, fmt.Errorf("ptptransport: dial command socket %s: %w", cmdAddr, err)
	}

	connNumber, err := initCommandHandshake(cmdConn, initiatorName)
	if err != nil {
		cmdConn.Close()
		return nil, err
	}

	ip := &IP{cmdConn: cmdConn, timeout: timeout}

	if eventPort != 0 {
		eventAddr := fmt.Sprintf("%s:%d", host, eventPort)
		eventConn, err := dialTCPBackingOff(eventAddr, timeout)
		if err != nil {
			cmdConn.Close()
			return nil, fmt.Errorf("ptptransport: dial event socket %s: %w", eventAddr, err)
		}
		if err := initEventHandshake(eventConn, connNumber); err != nil {
			cmdConn.Close()
			eventConn.Close()
			return nil, err
		}
		ip.eventConn = eventConn
	}
	return ip, nil
}

// readIPHandshakePacket reads one length-prefixed PTP/IP packet from conn,
// used only during the init handshake (before an Engine and its shared
// buffer exist to read into).
func readIPHandshakePacket(conn net.Conn) (ptppacket.IPHeader, []byte, error) {
	hdr := make([]byte, ptppacket.IPHeaderSize)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return ptppacket.IPHeader{}, nil, fmt.Errorf("ptptransport: read init handshake header: %w", err)
	}
	h := ptppacket.ParseIPHeader(hdr)
	if h.Length < ptppacket.IPHeaderSize {
		return h, nil, fmt.Errorf("ptptransport: malformed init handshake packet, length %d", h.Length)
	}
	payload := make([]byte, h.Length-ptppacket.IPHeaderSize)
	if len(payload) > 0 {
		if _, err := io.ReadFull(conn, payload); err != nil {
			return h, nil, fmt.Errorf("ptptransport: read init handshake payload: %w", err)
		}
	}
	return h, payload, nil
}

// initCommandHandshake sends an init-command-request on conn and returns
// the connection number from the responder's init-command-ack.
func initCommandHandshake(conn net.Conn, name string) (uint32, error) {
	buf := make([]byte, ptppacket.IPHeaderSize+ptppacket.IPGUIDSize+4+ptpwire.StringLen(name))
	n := ptppacket.BuildInitCommandRequest(buf, name)
	if _, err := conn.Write(buf[:n]); err != nil {
		return 0, fmt.Errorf("ptptransport: write init-command-request: %w", err)
	}

	h, payload, err := readIPHandshakePacket(conn)
	if err != nil {
		return 0, err
	}
	switch h.Type {
	case ptppacket.IPInitFail:
		return 0, ErrInitFail
	case ptppacket.IPInitCommandAck:
		if len(payload) < 4 {
			return 0, fmt.Errorf("ptptransport: init-command-ack payload too short (%d bytes)", len(payload))
		}
		return ptpwire.NewReader(payload).Uint32(), nil
	default:
		return 0, fmt.Errorf("ptptransport: unexpected response to init-command-request: type %d", h.Type)
	}
}

// initEventHandshake sends an init-event-request carrying connNumber on
// conn and waits for the responder's init-event-ack.
func initEventHandshake(conn net.Conn, connNumber uint32) error {
	buf := make([]byte, ptppacket.IPHeaderSize+4)
	n := ptppacket.BuildInitEventRequest(buf, connNumber)
	if _, err := conn.Write(buf[:n]); err != nil {
		return fmt.Errorf("ptptransport: write init-event-request: %w", err)
	}

	h, _, err := readIPHandshakePacket(conn)
	if err != nil {
		return err
	}
	if h.Type != ptppacket.IPInitEventAck {
		return fmt.Errorf("ptptransport: unexpected response to init-event-request: type %d", h.Type)
	}
	return nil
}

func (ip *IP) deadline(conn net.Conn) {
	if ip.timeout > 0 {
		conn.SetDeadline(time.Now().Add(ip.timeout))
	}
}

// Write writes the full byte slice to the command socket.
func (ip *IP) Write(b []byte) (int, error) {
	ip.deadline(ip.cmdConn)
	return ip.cmdConn.Write(b)
}

// Read performs a best-effort read on the command socket; short reads are
// legal per spec.md §4.4.
func (ip *IP) Read(into []byte) (int, error) {
	ip.deadline(ip.cmdConn)
	return ip.cmdConn.Read(into)
}

// MaxPacketSize returns the advisory read unit for PTP/IP command reads.
func (ip *IP) MaxPacketSize() int { return ipMaxRead }

// Kind reports KindIP.
func (ip *IP) Kind() Kind { return KindIP }

// EventWrite writes to the independent event socket.
func (ip *IP) EventWrite(b []byte) (int, error) {
	if ip.eventConn == nil {
		return 0, fmt.Errorf("ptptransport: event socket not connected")
	}
	ip.deadline(ip.eventConn)
	return ip.eventConn.Write(b)
}

// EventRead reads from the independent event socket.
func (ip *IP) EventRead(into []byte) (int, error) {
	if ip.eventConn == nil {
		return 0, fmt.Errorf("ptptransport: event socket not connected")
	}
	ip.deadline(ip.eventConn)
	return ip.eventConn.Read(into)
}

// Close closes both sockets, tolerating a nil event socket.
func (ip *IP) Close() error {
	var err error
	if ip.eventConn != nil {
		err = ip.eventConn.Close()
	}
	if cerr := ip.cmdConn.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
