package cants

import (
	"fmt"

	"github.com/skycants/cants/pkg/link"
)

// TransferType is the 3-bit transfer-type sub-field of a CAN-TS frame.
type TransferType byte

const (
	TimeSync    TransferType = 0
	Unsolicited TransferType = 1
	Telecommand TransferType = 2
	Telemetry   TransferType = 3
	SetBlock    TransferType = 4
	GetBlock    TransferType = 5
)

func (t TransferType) String() string {
	switch t {
	case TimeSync:
		return "TIME_SYNC"
	case Unsolicited:
		return "UNSOLICITED"
	case Telecommand:
		return "TELECOMMAND"
	case Telemetry:
		return "TELEMETRY"
	case SetBlock:
		return "SET_BLOCK"
	case GetBlock:
		return "GET_BLOCK"
	default:
		return fmt.Sprintf("TransferType(%d)", byte(t))
	}
}

// Special addresses, illegal as unicast targets.
const (
	TimeSyncAddress  byte = 0x00
	KeepAliveAddress byte = 0x01
)

// IsBroadcastAddress reports whether addr is reserved for time-sync or
// keep-alive traffic and therefore illegal as a unicast destination.
func IsBroadcastAddress(addr byte) bool {
	return addr == TimeSyncAddress || addr == KeepAliveAddress
}

// Frame is a logical CAN-TS frame: a transfer-type-tagged, at-most-8-byte
// payload addressed between two 8-bit node addresses.
type Frame struct {
	ToAddress    byte
	FromAddress  byte
	TransferType TransferType
	Command      uint16 // low 10 bits significant
	Data         []byte
}

// NewRawFrame builds a frame without validating the transfer-type/command
// relationship; used to construct the malformed or non-conformant frames
// exercised by this module's own tests.
func NewRawFrame(to, from byte, transferType TransferType, command uint16, data []byte) Frame {
	return Frame{ToAddress: to, FromAddress: from, TransferType: transferType, Command: command & 0x3FF, Data: data}
}

// EncodeID packs the CAN-TS address/type/command fields into a 29-bit
// extended CAN identifier, per the bit layout:
//
//	bits  0-9  : command
//	bits 10-17 : from_address
//	bits 18-20 : transfer_type
//	bits 21-28 : to_address
func EncodeID(to, from byte, transferType TransferType, command uint16) uint32 {
	return uint32(command&0x3FF) |
		uint32(from)<<10 |
		uint32(transferType&0x7)<<18 |
		uint32(to)<<21
}

// DecodeID unpacks a 29-bit extended CAN identifier into its fields.
// Decoding is tolerant: any 3-bit transfer_type value round-trips; it is the
// dispatcher's job to reject transfer types it does not recognize.
func DecodeID(id uint32) (to, from byte, transferType TransferType, command uint16) {
	command = uint16(id & 0x3FF)
	from = byte((id >> 10) & 0xFF)
	transferType = TransferType((id >> 18) & 0x7)
	to = byte((id >> 21) & 0xFF)
	return
}

// Encode converts a logical frame into the physical link frame the
// dispatcher hands to a link.Driver. The CAN frame is always extended-ID and
// never RTR.
func Encode(f Frame) (link.Frame, error) {
	if len(f.Data) > 8 {
		return link.Frame{}, fmt.Errorf("cants: frame data length %d exceeds 8 bytes", len(f.Data))
	}
	return link.Frame{
		ID:       EncodeID(f.ToAddress, f.FromAddress, f.TransferType, f.Command),
		Extended: true,
		RTR:      false,
		Data:     append([]byte(nil), f.Data...),
	}, nil
}

// Decode converts a physical link frame into a logical frame. 11-bit
// identifier frames and RTR frames are rejected; callers are expected to log
// and drop per §4.1.
func Decode(lf link.Frame) (Frame, error) {
	if !lf.Extended {
		return Frame{}, fmt.Errorf("cants: dropping non-extended CAN frame id=%x", lf.ID)
	}
	if lf.RTR {
		return Frame{}, fmt.Errorf("cants: dropping RTR CAN frame id=%x", lf.ID)
	}
	if len(lf.Data) > 8 {
		return Frame{}, fmt.Errorf("cants: frame data length %d exceeds 8 bytes", len(lf.Data))
	}
	to, from, transferType, command := DecodeID(lf.ID)
	return Frame{
		ToAddress:    to,
		FromAddress:  from,
		TransferType: transferType,
		Command:      command,
		Data:         append([]byte(nil), lf.Data...),
	}, nil
}

// TCFrameType and TMFrameType share the same sub-command encoding.
type TCFrameType byte

const (
	TCRequest TCFrameType = 0
	TCAck     TCFrameType = 1
	TCNack    TCFrameType = 2
)

type TMFrameType byte

const (
	TMRequest TMFrameType = 0
	TMAck     TMFrameType = 1
	TMNack    TMFrameType = 2
)

// packChannelCommand packs the TC/TM command sub-field: ft[1:0] at bits 9:8,
// channel at bits 7:0.
func packChannelCommand(ft byte, channel byte) uint16 {
	return (uint16(ft)&0x3)<<8 | uint16(channel)
}

func unpackChannelCommand(command uint16) (ft byte, channel byte) {
	ft = byte((command >> 8) & 0x3)
	channel = byte(command & 0xFF)
	return
}

// NewTelecommandFrame builds a TELECOMMAND frame.
func NewTelecommandFrame(to, from byte, ft TCFrameType, channel byte, data []byte) Frame {
	return Frame{ToAddress: to, FromAddress: from, TransferType: Telecommand, Command: packChannelCommand(byte(ft), channel), Data: data}
}

// NewTelemetryFrame builds a TELEMETRY frame.
func NewTelemetryFrame(to, from byte, ft TMFrameType, channel byte, data []byte) Frame {
	return Frame{ToAddress: to, FromAddress: from, TransferType: Telemetry, Command: packChannelCommand(byte(ft), channel), Data: data}
}

// SBFrameType enumerates SET_BLOCK sub-command types.
type SBFrameType byte

const (
	SBRequest  SBFrameType = 0
	SBTransfer SBFrameType = 1
	SBAck      SBFrameType = 2
	SBAbort    SBFrameType = 3
	SBNack     SBFrameType = 4
	SBStatus   SBFrameType = 6
	SBReport   SBFrameType = 7
)

// packBlockCommand packs the SB/GB command sub-field: ft[2:0] at bits 9:7,
// done/reserved at bit 6, seq-or-num at bits 5:0.
func packBlockCommand(ft byte, done bool, seq byte) uint16 {
	var doneBit uint16
	if done {
		doneBit = 1
	}
	return (uint16(ft)&0x7)<<7 | doneBit<<6 | uint16(seq)&0x3F
}

func unpackBlockCommand(command uint16) (ft byte, done bool, seq byte) {
	ft = byte((command >> 7) & 0x7)
	done = (command>>6)&0x1 != 0
	seq = byte(command & 0x3F)
	return
}

// NewSetBlockFrame builds a SET_BLOCK frame. done is only meaningful for
// SBReport frames; it is ignored (and transmitted as 0) for every other
// frame type.
func NewSetBlockFrame(to, from byte, ft SBFrameType, done bool, seqOrNum byte, data []byte) Frame {
	if ft != SBReport {
		done = false
	}
	return Frame{ToAddress: to, FromAddress: from, TransferType: SetBlock, Command: packBlockCommand(byte(ft), done, seqOrNum), Data: data}
}

// GBFrameType enumerates GET_BLOCK sub-command types.
type GBFrameType byte

const (
	GBRequest  GBFrameType = 0
	GBAck      GBFrameType = 2
	GBAbort    GBFrameType = 3
	GBNack     GBFrameType = 4
	GBStart    GBFrameType = 6
	GBTransfer GBFrameType = 7
)

// NewGetBlockFrame builds a GET_BLOCK frame; bit 6 of the command field is
// always transmitted as 0 (reserved).
func NewGetBlockFrame(to, from byte, ft GBFrameType, seqOrNum byte, data []byte) Frame {
	return Frame{ToAddress: to, FromAddress: from, TransferType: GetBlock, Command: packBlockCommand(byte(ft), false, seqOrNum), Data: data}
}

// NewUnsolicitedFrame builds an UNSOLICITED frame; channel occupies the low
// byte of the command field, all other bits zero.
func NewUnsolicitedFrame(to, from, channel byte, data []byte) Frame {
	return Frame{ToAddress: to, FromAddress: from, TransferType: Unsolicited, Command: uint16(channel), Data: data}
}

func unpackUnsolicitedCommand(command uint16) (channel byte) {
	return byte(command & 0xFF)
}

// NewTimeSyncFrame builds a TIME_SYNC broadcast frame; command is always 0.
func NewTimeSyncFrame(from byte, data []byte) Frame {
	return Frame{ToAddress: TimeSyncAddress, FromAddress: from, TransferType: TimeSync, Command: 0, Data: data}
}
