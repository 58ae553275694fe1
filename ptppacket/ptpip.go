package ptppacket

import "github.com/nasa-jpl/ptpgo/ptpwire"

// PTP/IP packet types, PIMA 15740 / libgphoto2's ptpip framing.
const (
	IPInitCommandRequest uint32 = 1
	IPInitCommandAck     uint32 = 2
	IPInitEventRequest   uint32 = 3
	IPInitEventAck       uint32 = 4
	IPInitFail           uint32 = 5
	// IPCommandRequest is the wire value for a command sent over the PTP/IP
	// command socket. camlib's ptp_send/ptp_send_bulk_packets sends the
	// same 12-byte bulk command container over that socket unmodified
	// rather than wrapping it in a distinct PTP/IP command-request
	// envelope, so this package has no separate builder for it.
	IPCommandRequest    uint32 = 6
	IPCommandResponse   uint32 = 7
	IPEvent             uint32 = 8
	IPStartDataPacket   uint32 = 9
	IPDataPacket        uint32 = 10
	IPCancelTransaction uint32 = 11
	IPEndDataPacket     uint32 = 12
	IPProbeRequest      uint32 = 13
	IPProbeResponse     uint32 = 14
)

// IPHeaderSize is the fixed length(4)+type(4) prefix on every PTP/IP packet.
const IPHeaderSize = 8

// IPGUIDSize is the length of the fixed all-0xFF GUID used in the init
// command request, per spec.md §4.2 and §6.
const IPGUIDSize = 16

// IPMinorVersion is the minor protocol version advertised in the init
// command request.
const IPMinorVersion uint32 = 1

// IPHeader is the parsed length/type prefix common to every PTP/IP packet.
type IPHeader struct {
	Length uint32
	Type   uint32
}

// ParseIPHeader reads the 8-byte length/type prefix from buf.
func ParseIPHeader(buf []byte) IPHeader {
	r := ptpwire.NewReader(buf)
	return IPHeader{Length: r.Uint32(), Type: r.Uint32()}
}

// BuildInitCommandRequest writes the init-command-request packet: an 8-byte
// PTP/IP header, a fixed 16-byte all-0xFF GUID, a minor version of 1, and
// the caller's device name written as a PTP string (UTF-16LE, one-byte
// code-unit count prefix). Returns the total packet length.
func BuildInitCommandRequest(buf []byte, deviceName string) int {
	payloadLen := IPGUIDSize + 4 + ptpwire.StringLen(deviceName)
	total := IPHeaderSize + payloadLen

	w := ptpwire.NewWriter(buf)
	w.Uint32(uint32(total))
	w.Uint32(IPInitCommandRequest)
	for i := 0; i < IPGUIDSize; i++ {
		w.Uint8(0xFF)
	}
	w.Uint32(IPMinorVersion)
	w.String(deviceName)
	return total
}

// BuildInitEventRequest writes a 12-byte init-event-request packet carrying
// the connection number returned by the init-command-ack.
func BuildInitEventRequest(buf []byte, connectionNumber uint32) int {
	const total = IPHeaderSize + 4
	w := ptpwire.NewWriter(buf)
	w.Uint32(total)
	w.Uint32(IPInitEventRequest)
	w.Uint32(connectionNumber)
	return total
}

// BuildDataStart writes a DATA_PACKET_START packet whose payload is the
// transaction id followed by the total length of the data that the
// following END_DATA_PACKET will carry, per camlib's ptpip_data_start_packet.
func BuildDataStart(buf []byte, transaction uint32, totalLength uint32) int {
	const total = IPHeaderSize + 4 + 4
	w := ptpwire.NewWriter(buf)
	w.Uint32(total)
	w.Uint32(IPStartDataPacket)
	w.Uint32(transaction)
	w.Uint32(totalLength)
	return total
}

// BuildDataEnd writes an END_DATA_PACKET header followed by the payload
// bytes, per camlib's ptpip_data_end_packet. The caller must ensure buf has
// room for IPHeaderSize+4+len(payload) bytes.
func BuildDataEnd(buf []byte, transaction uint32, payload []byte) int {
	total := IPHeaderSize + 4 + len(payload)
	w := ptpwire.NewWriter(buf)
	w.Uint32(uint32(total))
	w.Uint32(IPEndDataPacket)
	w.Uint32(transaction)
	w.Bytes(payload)
	return total
}
