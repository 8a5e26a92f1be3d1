package net

import (
	"encoding/binary"
	"errors"

	getty "github.com/AlexStocks/getty/transport"
)

var (
	ErrNotEnoughStream = errors.New("packet stream is not enough")
	ErrTooLargePackage = errors.New("packet length exceeds the session's maximum message length")
	ErrInvalidPackage  = errors.New("invalid packet")
)

// packetHeaderSize covers the body length, command, and sequence fields.
//
//	{u32 bodyLen LE}{u8 command}{u32 seq LE}{body}
const packetHeaderSize = 9

// Packet is one framed command or reply. Seq is echoed back unchanged so a
// client can pipeline requests.
type Packet struct {
	Command byte
	Seq     uint32
	Body    []byte
}

func (p *Packet) Marshal() []byte {
	out := make([]byte, packetHeaderSize+len(p.Body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(p.Body)))
	out[4] = p.Command
	binary.LittleEndian.PutUint32(out[5:9], p.Seq)
	copy(out[packetHeaderSize:], p.Body)
	return out
}

// PacketCodec frames packets on a getty session.
type PacketCodec struct {
	maxMsgLen int
}

func NewPacketCodec(maxMsgLen int) *PacketCodec {
	return &PacketCodec{maxMsgLen: maxMsgLen}
}

// Read decodes one packet from data. A short buffer is not an error; getty
// calls again once more bytes arrive.
func (c *PacketCodec) Read(ss getty.Session, data []byte) (interface{}, int, error) {
	if len(data) < packetHeaderSize {
		return nil, 0, nil
	}
	bodyLen := int(binary.LittleEndian.Uint32(data[0:4]))
	if c.maxMsgLen > 0 && bodyLen > c.maxMsgLen {
		return nil, 0, ErrTooLargePackage
	}
	if len(data) < packetHeaderSize+bodyLen {
		return nil, 0, nil
	}
	pkg := &Packet{
		Command: data[4],
		Seq:     binary.LittleEndian.Uint32(data[5:9]),
		Body:    append([]byte(nil), data[packetHeaderSize:packetHeaderSize+bodyLen]...),
	}
	return pkg, packetHeaderSize + bodyLen, nil
}

func (c *PacketCodec) Write(ss getty.Session, pkg interface{}) ([]byte, error) {
	p, ok := pkg.(*Packet)
	if !ok {
		return nil, ErrInvalidPackage
	}
	if c.maxMsgLen > 0 && len(p.Body) > c.maxMsgLen {
		return nil, ErrTooLargePackage
	}
	return p.Marshal(), nil
}
