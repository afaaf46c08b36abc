package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
)

const headerSize = 4

// ErrPacketTooLarge is returned when a payload does not fit the 16-bit length field.
var ErrPacketTooLarge = errors.New("network: packet payload too large")

// EncodePacket frames data as: 2 byte message ID + 2 byte length + payload.
func EncodePacket(msgID uint16, data []byte) ([]byte, error) {
	if len(data) > math.MaxUint16 {
		return nil, ErrPacketTooLarge
	}
	packet := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint16(packet[0:2], msgID)
	binary.BigEndian.PutUint16(packet[2:4], uint16(len(data)))
	copy(packet[headerSize:], data)
	return packet, nil
}

// DecodePacket parses one framed message. Trailing bytes past the declared
// length are ignored.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) < headerSize {
		return nil, io.ErrShortBuffer
	}

	msgID := binary.BigEndian.Uint16(data[0:2])
	length := binary.BigEndian.Uint16(data[2:4])

	if len(data) < headerSize+int(length) {
		return nil, io.ErrShortBuffer
	}

	return &Packet{
		MsgID:  msgID,
		Length: length,
		Data:   data[headerSize : headerSize+int(length)],
	}, nil
}

// SendJSON marshals v and sends it on conn.
func SendJSON(conn interface {
	Send(msgID uint16, data []byte) error
}, msgID uint16, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Send(msgID, data)
}
