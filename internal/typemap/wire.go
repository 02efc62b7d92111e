package typemap

import (
	"encoding/binary"
	"math"

	"github.com/libpolycall/polycall-go/internal/perr"
	"github.com/libpolycall/polycall-go/internal/types"
)

// Serialize produces a length-prefixed, type-tagged byte stream for
// v, suitable for embedding as one Command Protocol parameter payload
// (spec 4.2's "serialize/deserialize produce a length-prefixed,
// type-tagged byte stream"). Layout: [1 byte tag][4 byte big-endian
// length][length bytes payload]. Composite tags recurse: each element
// or field is itself a complete tagged sub-stream.
func Serialize(v *types.Value) ([]byte, error) {
	if v == nil {
		return nil, perr.New(perr.InvalidArgument, "nil value")
	}
	payload, err := serializePayload(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 5+len(payload))
	out = append(out, byte(v.Tag))
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(payload)))
	out = append(out, lenBuf...)
	out = append(out, payload...)
	return out, nil
}

func serializePayload(v *types.Value) ([]byte, error) {
	switch v.Tag {
	case types.Void:
		return nil, nil
	case types.Bool:
		b, _ := v.AsBool()
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case types.Int8, types.Int16, types.Int32, types.Int64:
		n, _ := v.AsInt()
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(n))
		return buf, nil
	case types.UInt8, types.UInt16, types.UInt32, types.UInt64:
		n, _ := v.AsUint()
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, n)
		return buf, nil
	case types.Float32, types.Float64:
		f, _ := v.AsFloat()
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(f))
		return buf, nil
	case types.Char:
		r, _ := v.AsChar()
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(r))
		return buf, nil
	case types.String:
		s, _ := v.AsString()
		return []byte(s), nil
	case types.Pointer:
		p, _ := v.AsPointer()
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(p))
		return buf, nil
	case types.Array:
		elems, _ := v.AsArray()
		countBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(countBuf, uint32(len(elems)))
		out := append([]byte(nil), countBuf...)
		for _, e := range elems {
			sub, err := Serialize(e)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	case types.Struct:
		fields, _ := v.AsStruct()
		countBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(countBuf, uint32(len(fields)))
		out := append([]byte(nil), countBuf...)
		for _, f := range fields {
			nameBuf := make([]byte, 2)
			binary.BigEndian.PutUint16(nameBuf, uint16(len(f.Name)))
			out = append(out, nameBuf...)
			out = append(out, []byte(f.Name)...)
			sub, err := Serialize(f.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	default:
		return nil, perr.Newf(perr.InvalidType, "type %s is not wire-serializable", v.Tag)
	}
}

// Deserialize parses one tagged sub-stream produced by Serialize,
// returning the Value and the number of bytes consumed from buf.
func Deserialize(buf []byte) (*types.Value, int, error) {
	if len(buf) < 5 {
		return nil, 0, perr.New(perr.InvalidArgument, "buffer too short for tag+length header")
	}
	tag := types.Tag(buf[0])
	length := binary.BigEndian.Uint32(buf[1:5])
	if 5+int(length) > len(buf) {
		return nil, 0, perr.New(perr.InvalidArgument, "payload length extends past buffer end")
	}
	payload := buf[5 : 5+int(length)]
	v, err := deserializePayload(tag, payload)
	if err != nil {
		return nil, 0, err
	}
	return v, 5 + int(length), nil
}

func deserializePayload(tag types.Tag, payload []byte) (*types.Value, error) {
	switch tag {
	case types.Void:
		return types.NewVoid(), nil
	case types.Bool:
		if len(payload) < 1 {
			return nil, perr.New(perr.InvalidArgument, "bool payload too short")
		}
		return types.NewBool(payload[0] != 0), nil
	case types.Int8, types.Int16, types.Int32, types.Int64:
		if len(payload) < 8 {
			return nil, perr.New(perr.InvalidArgument, "integer payload too short")
		}
		return types.NewInt(tag, int64(binary.BigEndian.Uint64(payload))), nil
	case types.UInt8, types.UInt16, types.UInt32, types.UInt64:
		if len(payload) < 8 {
			return nil, perr.New(perr.InvalidArgument, "integer payload too short")
		}
		return types.NewUint(tag, binary.BigEndian.Uint64(payload)), nil
	case types.Float32, types.Float64:
		if len(payload) < 8 {
			return nil, perr.New(perr.InvalidArgument, "float payload too short")
		}
		return types.NewFloat(tag, math.Float64frombits(binary.BigEndian.Uint64(payload))), nil
	case types.Char:
		if len(payload) < 4 {
			return nil, perr.New(perr.InvalidArgument, "char payload too short")
		}
		return types.NewChar(rune(binary.BigEndian.Uint32(payload))), nil
	case types.String:
		return types.NewString(string(payload), true), nil
	case types.Pointer:
		if len(payload) < 8 {
			return nil, perr.New(perr.InvalidArgument, "pointer payload too short")
		}
		return types.NewPointer(uintptr(binary.BigEndian.Uint64(payload))), nil
	case types.Array:
		if len(payload) < 4 {
			return nil, perr.New(perr.InvalidArgument, "array payload too short")
		}
		count := binary.BigEndian.Uint32(payload[:4])
		rest := payload[4:]
		elems := make([]*types.Value, 0, count)
		var elemDesc *types.Descriptor
		for i := uint32(0); i < count; i++ {
			v, n, err := Deserialize(rest)
			if err != nil {
				return nil, err
			}
			elemDesc = v.Descriptor
			elems = append(elems, v)
			rest = rest[n:]
		}
		return types.NewArray(elemDesc, elems), nil
	case types.Struct:
		if len(payload) < 4 {
			return nil, perr.New(perr.InvalidArgument, "struct payload too short")
		}
		count := binary.BigEndian.Uint32(payload[:4])
		rest := payload[4:]
		fields := make([]types.StructField, 0, count)
		for i := uint32(0); i < count; i++ {
			if len(rest) < 2 {
				return nil, perr.New(perr.InvalidArgument, "struct field name length truncated")
			}
			nameLen := binary.BigEndian.Uint16(rest[:2])
			rest = rest[2:]
			if len(rest) < int(nameLen) {
				return nil, perr.New(perr.InvalidArgument, "struct field name truncated")
			}
			name := string(rest[:nameLen])
			rest = rest[nameLen:]
			v, n, err := Deserialize(rest)
			if err != nil {
				return nil, err
			}
			rest = rest[n:]
			fields = append(fields, types.StructField{Name: name, Value: v})
		}
		return types.NewStruct("", fields), nil
	default:
		return nil, perr.Newf(perr.InvalidType, "type %s is not wire-deserializable", tag)
	}
}
