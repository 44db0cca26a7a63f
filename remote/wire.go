package remote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Wire frame layout (big-endian):
//
//	magic       uint32  "LMOD"
//	version     uint16
//	type        uint16
//	flags       uint32
//	message id  uint64
//	payload len uint32
//	payload     msgpack
const (
	frameMagic   uint32 = 0x4c4d4f44
	frameVersion uint16 = 1
	headerLen           = 24
)

// MessageType identifies the operation a frame carries.
type MessageType uint16

const (
	MsgPing MessageType = iota + 1
	MsgGetModule
	MsgCall
)

func (t MessageType) String() string {
	switch t {
	case MsgPing:
		return "ping"
	case MsgGetModule:
		return "get_module"
	case MsgCall:
		return "call"
	default:
		return fmt.Sprintf("MessageType(%d)", uint16(t))
	}
}

const (
	flagResponse uint32 = 0x01
	flagError    uint32 = 0x02
)

var (
	errBadMagic       = errors.New("remote: bad frame magic")
	errBadVersion     = errors.New("remote: unsupported frame version")
	errPayloadTooLong = errors.New("remote: payload too large")
)

type header struct {
	Type       MessageType
	Flags      uint32
	MessageID  uint64
	PayloadLen uint32
}

type frame struct {
	header
	Payload []byte
}

// Limits bounds the memory a single frame may use.
type Limits struct {
	MaxPayloadBytes uint32
}

// DefaultLimits allows payloads up to 8 MiB.
func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 8 * 1024 * 1024}
}

func readFrame(r io.Reader, limits Limits) (frame, error) {
	var buf [headerLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return frame{}, err
	}
	if binary.BigEndian.Uint32(buf[0:4]) != frameMagic {
		return frame{}, errBadMagic
	}
	if v := binary.BigEndian.Uint16(buf[4:6]); v != frameVersion {
		return frame{}, fmt.Errorf("%w: %d", errBadVersion, v)
	}
	h := header{
		Type:       MessageType(binary.BigEndian.Uint16(buf[6:8])),
		Flags:      binary.BigEndian.Uint32(buf[8:12]),
		MessageID:  binary.BigEndian.Uint64(buf[12:20]),
		PayloadLen: binary.BigEndian.Uint32(buf[20:24]),
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return frame{}, errPayloadTooLong
	}
	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frame{}, err
	}
	return frame{header: h, Payload: payload}, nil
}

func writeFrame(w io.Writer, f frame, limits Limits) error {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return errPayloadTooLong
	}
	buf := make([]byte, headerLen+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], frameMagic)
	binary.BigEndian.PutUint16(buf[4:6], frameVersion)
	binary.BigEndian.PutUint16(buf[6:8], uint16(f.Type))
	binary.BigEndian.PutUint32(buf[8:12], f.Flags)
	binary.BigEndian.PutUint64(buf[12:20], f.MessageID)
	binary.BigEndian.PutUint32(buf[20:24], uint32(len(f.Payload)))
	copy(buf[headerLen:], f.Payload)
	_, err := w.Write(buf)
	return err
}

// Payloads

type getModuleRequest struct {
	Name string `msgpack:"name"`
}

// MethodInfo describes one remotely callable method.
type MethodInfo struct {
	Name    string `msgpack:"name" json:"name"`
	NumIn   int    `msgpack:"num_in" json:"numIn"`
	NumOut  int    `msgpack:"num_out" json:"numOut"`
	Context bool   `msgpack:"context" json:"context"`
}

type getModuleResponse struct {
	Name         string       `msgpack:"name"`
	Interface    string       `msgpack:"interface"`
	Capabilities []string     `msgpack:"capabilities"`
	Methods      []MethodInfo `msgpack:"methods"`
}

type callRequest struct {
	Module string               `msgpack:"module"`
	Method string               `msgpack:"method"`
	Args   []msgpack.RawMessage `msgpack:"args"`
}

type callResponse struct {
	Results []msgpack.RawMessage `msgpack:"results"`
}

type errorResponse struct {
	Code    string `msgpack:"code"`
	Message string `msgpack:"message"`
}
