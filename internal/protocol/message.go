// Package protocol implements the Command Protocol (spec component
// C10): the exact big-endian wire message described in spec section
// 4.10, a handler registry with duplicate id/name detection, and a
// bounded correlation-ID ring for tracing in-flight requests.
//
// Grounded on commbus/messages.go's fixed-layout wire struct plus
// encoding/binary usage, and on coreengine/kernel.ServiceRegistry's
// duplicate-detection discipline reused here for command handlers.
package protocol

import (
	"encoding/binary"

	"github.com/libpolycall/polycall-go/internal/perr"
)

// CurrentVersion is the only wire version this build accepts.
const CurrentVersion uint8 = 1

const (
	headerSize    = 1 + 4 + 4 + 4 // version, command id, flags, param count
	paramHeadSize = 2 + 1 + 2 + 4 // id, type tag, flags, data size
)

// Param is one command parameter.
type Param struct {
	ID    uint16
	Type  uint8 // types.Tag value
	Flags uint16
	Data  []byte
}

// Message is a decoded Command Protocol request.
type Message struct {
	Version   uint8
	CommandID uint32
	Flags     uint32
	Params    []Param
}

// Encode renders m as the exact wire layout spec 4.10 defines.
func Encode(m Message) []byte {
	buf := make([]byte, headerSize)
	buf[0] = m.Version
	binary.BigEndian.PutUint32(buf[1:5], m.CommandID)
	binary.BigEndian.PutUint32(buf[5:9], m.Flags)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(m.Params)))

	for _, p := range m.Params {
		head := make([]byte, paramHeadSize)
		binary.BigEndian.PutUint16(head[0:2], p.ID)
		head[2] = p.Type
		binary.BigEndian.PutUint16(head[3:5], p.Flags)
		binary.BigEndian.PutUint32(head[5:9], uint32(len(p.Data)))
		buf = append(buf, head...)
		buf = append(buf, p.Data...)
	}
	return buf
}

// Decode parses a Message from buf. Any field that runs past the end
// of buf, or a version this build does not recognize, returns
// INVALID_ARGUMENT (spec 4.10: "unknown version -> INVALID_ARGUMENT;
// incomplete buffer at any field -> INVALID_ARGUMENT; parameter
// payload size must not extend past the buffer end").
func Decode(buf []byte) (Message, error) {
	if len(buf) < headerSize {
		return Message{}, perr.New(perr.InvalidArgument, "buffer too short for command header")
	}
	version := buf[0]
	if version != CurrentVersion {
		return Message{}, perr.Newf(perr.InvalidArgument, "unsupported command protocol version %d", version)
	}
	commandID := binary.BigEndian.Uint32(buf[1:5])
	flags := binary.BigEndian.Uint32(buf[5:9])
	paramCount := binary.BigEndian.Uint32(buf[9:13])

	rest := buf[headerSize:]
	params := make([]Param, 0, paramCount)
	for i := uint32(0); i < paramCount; i++ {
		if len(rest) < paramHeadSize {
			return Message{}, perr.New(perr.InvalidArgument, "buffer too short for parameter header")
		}
		id := binary.BigEndian.Uint16(rest[0:2])
		typ := rest[2]
		pflags := binary.BigEndian.Uint16(rest[3:5])
		size := binary.BigEndian.Uint32(rest[5:9])
		rest = rest[paramHeadSize:]

		if uint64(size) > uint64(len(rest)) {
			return Message{}, perr.New(perr.InvalidArgument, "parameter payload extends past buffer end")
		}
		data := append([]byte(nil), rest[:size]...)
		rest = rest[size:]

		params = append(params, Param{ID: id, Type: typ, Flags: pflags, Data: data})
	}

	return Message{Version: version, CommandID: commandID, Flags: flags, Params: params}, nil
}

// Response is a decoded Command Protocol response.
type Response struct {
	Status       uint32 // 0 = success, non-zero = error
	ErrorCode    int32
	ErrorMessage string
	Result       []byte
}

const maxErrorMessageBytes = 4096

// EncodeResponse renders r as: 4-byte status, 4-byte error code,
// 4-byte result size, optional NUL-terminated UTF-8 error message,
// then the result bytes.
func EncodeResponse(r Response) []byte {
	msg := []byte(r.ErrorMessage)
	if len(msg) > maxErrorMessageBytes {
		msg = msg[:maxErrorMessageBytes]
	}

	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], r.Status)
	binary.BigEndian.PutUint32(buf[4:8], uint32(int32ToBits(r.ErrorCode)))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(r.Result)))
	if r.Status != 0 {
		buf = append(buf, msg...)
		buf = append(buf, 0)
	}
	buf = append(buf, r.Result...)
	return buf
}

// DecodeResponse parses a Response produced by EncodeResponse.
func DecodeResponse(buf []byte) (Response, error) {
	if len(buf) < 12 {
		return Response{}, perr.New(perr.InvalidArgument, "buffer too short for response header")
	}
	status := binary.BigEndian.Uint32(buf[0:4])
	errCode := bitsToInt32(binary.BigEndian.Uint32(buf[4:8]))
	resultSize := binary.BigEndian.Uint32(buf[8:12])
	rest := buf[12:]

	var errMsg string
	if status != 0 {
		nul := indexNUL(rest)
		if nul < 0 {
			return Response{}, perr.New(perr.InvalidArgument, "error message missing NUL terminator")
		}
		errMsg = string(rest[:nul])
		rest = rest[nul+1:]
	}

	if uint64(resultSize) > uint64(len(rest)) {
		return Response{}, perr.New(perr.InvalidArgument, "result payload extends past buffer end")
	}
	result := append([]byte(nil), rest[:resultSize]...)

	return Response{Status: status, ErrorCode: errCode, ErrorMessage: errMsg, Result: result}, nil
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

func int32ToBits(v int32) uint32 { return uint32(v) }
func bitsToInt32(v uint32) int32 { return int32(v) }
