/*Package ptppacket builds and parses PTP USB bulk containers and PTP/IP
packets.

Grounded on camlib's src/packet.c (ptp_bulk_packet, ptp_new_cmd_packet,
ptp_new_data_packet, ptp_get_return_code, ptp_get_payload, ptp_get_param)
and src/backend.c's ptpip_read_packet framing.
*/
package ptppacket

import "github.com/nasa-jpl/ptpgo/ptpwire"

// Container type tags, MTP 1.1 section 5.1.2.
const (
	TypeUndefined uint16 = 0
	TypeCommand   uint16 = 1
	TypeData      uint16 = 2
	TypeResponse  uint16 = 3
	TypeEvent     uint16 = 4
)

// BulkHeaderSize is the fixed 12-byte header shared by command, data, and
// response bulk containers: length(4) + type(2) + code(2) + transaction(4).
const BulkHeaderSize = 12

// MaxParams is the maximum number of 32-bit parameters a command container
// may carry (MTP 1.1, operation request dataset).
const MaxParams = 5

// Bulk is the parsed view of a 12-byte-header USB bulk container.
type Bulk struct {
	Length      uint32
	Type        uint16
	Code        uint16
	Transaction uint32
	Params      [MaxParams]uint32
}

// BuildCommand writes a command container for cmd into buf at offset 0 and
// returns its header length (BulkHeaderSize + 4*paramLength).  The
// transaction id is taken verbatim from the transaction argument; camlib's
// ptp_bulk_packet increments the runtime's counter as a side effect, but
// that responsibility belongs to the caller (ptpengine) here, not to the
// packet builder.
func BuildCommand(buf []byte, code uint16, transaction uint32, params []uint32) int {
	return buildBulk(buf, TypeCommand, code, transaction, params, 0)
}

// BuildData writes a data container's header (payload is appended by the
// caller after this call, per camlib's ptp_new_data_packet + later payload
// copy) and returns the header length. dataLength is the payload size that
// follows; the container's length field is header+dataLength.
func BuildData(buf []byte, code uint16, transaction uint32, params []uint32, dataLength int) int {
	return buildBulk(buf, TypeData, code, transaction, params, dataLength)
}

// BuildResponse writes a response container (used only by fakes/tests that
// simulate a device) and returns its header length.
func BuildResponse(buf []byte, code uint16, transaction uint32, params []uint32) int {
	return buildBulk(buf, TypeResponse, code, transaction, params, 0)
}

func buildBulk(buf []byte, typ, code uint16, transaction uint32, params []uint32, dataLength int) int {
	headerLen := BulkHeaderSize + 4*len(params)
	w := ptpwire.NewWriter(buf)
	w.Uint32(uint32(headerLen + dataLength))
	w.Uint16(typ)
	w.Uint16(code)
	w.Uint32(transaction)
	for _, p := range params {
		w.Uint32(p)
	}
	return headerLen
}

// ParseBulk reads a Bulk container's header from buf at offset 0.  It does
// not validate that buf holds Length bytes; that is the transport receive
// loop's job.
func ParseBulk(buf []byte) Bulk {
	r := ptpwire.NewReader(buf)
	var b Bulk
	b.Length = r.Uint32()
	b.Type = r.Uint16()
	b.Code = r.Uint16()
	b.Transaction = r.Uint32()
	for i := 0; i < MaxParams; i++ {
		if r.Pos()+4 > len(buf) {
			break
		}
		b.Params[i] = r.Uint32()
	}
	return b
}

// UpdateDataLength overwrites the length field of the container at offset 0,
// matching camlib's ptp_update_data_length (used once the payload size is
// known, e.g. after growing the buffer for send_data).
func UpdateDataLength(buf []byte, length uint32) {
	ptpwire.NewWriter(buf).Uint32(length)
}

// ResponseOffset returns the byte offset at which the response container
// begins, given the buffer holds either just a response, or a data
// container immediately followed by a response.  Mirrors camlib's
// ptp_get_return_code's dispatch on the first container's type.
func ResponseOffset(buf []byte) int {
	first := ParseBulk(buf)
	if first.Type == TypeData {
		return int(first.Length)
	}
	return 0
}

// ReturnCode extracts the response container's 16-bit return code,
// following the data container if one precedes the response.
func ReturnCode(buf []byte) uint16 {
	of := ResponseOffset(buf)
	return ParseBulk(buf[of:]).Code
}

// Param extracts parameter index (0-4) from the response container.
func Param(buf []byte, index int) uint32 {
	of := ResponseOffset(buf)
	b := ParseBulk(buf[of:])
	if index < 0 || index >= MaxParams {
		return 0
	}
	return b.Params[index]
}

// Payload returns the payload slice of the container at offset 0, or nil if
// that container is itself a response (there is no payload preceding it).
// Mirrors camlib's ptp_get_payload.
func Payload(buf []byte) []byte {
	first := ParseBulk(buf)
	if first.Type == TypeResponse {
		return nil
	}
	return buf[BulkHeaderSize:first.Length]
}
