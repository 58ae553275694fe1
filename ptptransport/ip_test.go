package ptptransport

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/nasa-jpl/ptpgo/ptppacket"
	"github.com/nasa-jpl/ptpgo/ptpwire"
)

// writeIPHandshakePacket writes a minimal PTP/IP packet of the given type
// and payload to conn.
func writeIPHandshakePacket(t *testing.T, conn net.Conn, typ uint32, payload []byte) {
	t.Helper()
	buf := make([]byte, ptppacket.IPHeaderSize+len(payload))
	w := ptpwire.NewWriter(buf)
	w.Uint32(uint32(len(buf)))
	w.Uint32(typ)
	w.Bytes(payload)
	if _, err := conn.Write(buf); err != nil {
		t.Fatalf("write handshake packet: %v", err)
	}
}

func readIPHandshakeRequest(t *testing.T, conn net.Conn) ptppacket.IPHeader {
	t.Helper()
	hdr := make([]byte, ptppacket.IPHeaderSize)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		t.Fatalf("read request header: %v", err)
	}
	h := ptppacket.ParseIPHeader(hdr)
	payload := make([]byte, h.Length-ptppacket.IPHeaderSize)
	if len(payload) > 0 {
		if _, err := io.ReadFull(conn, payload); err != nil {
			t.Fatalf("read request payload: %v", err)
		}
	}
	return h
}

// TestDialIPInitFailReportsErrInitFail covers spec.md §8 scenario S5: a
// responder that answers the init-command-request with INIT_FAIL must be
// reported as ErrInitFail, not a generic I/O error.
func TestDialIPInitFailReportsErrInitFail(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		readIPHandshakeRequest(t, conn)
		writeIPHandshakePacket(t, conn, ptppacket.IPInitFail, nil)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	_, err = DialIP("127.0.0.1", addr.Port, 0, time.Second)
	if err == nil {
		t.Fatal("DialIP succeeded, want ErrInitFail")
	}
	if !errors.Is(err, ErrInitFail) {
		t.Fatalf("error = %v, want ErrInitFail", err)
	}
}

// TestDialIPHandshakeSucceeds exercises the full command+event ack
// handshake.
func TestDialIPHandshakeSucceeds(t *testing.T) {
	cmdLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen cmd: %v", err)
	}
	defer cmdLn.Close()
	eventLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen event: %v", err)
	}
	defer eventLn.Close()

	const connNumber = uint32(0x42)

	go func() {
		conn, err := cmdLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		readIPHandshakeRequest(t, conn)
		ackPayload := make([]byte, 4)
		ptpwire.NewWriter(ackPayload).Uint32(connNumber)
		writeIPHandshakePacket(t, conn, ptppacket.IPInitCommandAck, ackPayload)
	}()

	go func() {
		conn, err := eventLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		h := readIPHandshakeRequest(t, conn)
		if h.Type != ptppacket.IPInitEventRequest {
			t.Errorf("event request type = %d, want IPInitEventRequest", h.Type)
		}
		writeIPHandshakePacket(t, conn, ptppacket.IPInitEventAck, nil)
	}()

	cmdAddr := cmdLn.Addr().(*net.TCPAddr)
	eventAddr := eventLn.Addr().(*net.TCPAddr)
	ip, err := DialIP("127.0.0.1", cmdAddr.Port, eventAddr.Port, time.Second)
	if err != nil {
		t.Fatalf("DialIP: %v", err)
	}
	defer ip.Close()
}
