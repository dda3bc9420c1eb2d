// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package dos

import "github.com/reinauer/AmiFUSE/internal/memlayout"

// Node type tags (exec/nodes.h subset used by this bridge).
const (
	NTMsgPort  uint8 = 4
	NTMessage  uint8 = 5
	NTReplyMsg uint8 = 6
	NTTask     uint8 = 1
)

// Node is the 14-byte list-node header embedded at the front of
// MsgPort, Message, and Task (exec/nodes.h struct Node).
type Node struct{ Addr uint32 }

const nodeSize = 14

func (n Node) Type(mem *memlayout.Memory) (uint8, error)   { return mem.ReadU8(n.Addr + 8) }
func (n Node) SetType(mem *memlayout.Memory, t uint8) error { return mem.WriteU8(n.Addr+8, t) }
func (n Node) SetName(mem *memlayout.Memory, addr uint32) error {
	return mem.WriteU32(n.Addr+10, addr)
}
func (n Node) Name(mem *memlayout.Memory) (uint32, error) { return mem.ReadU32(n.Addr + 10) }

// MsgPort is exec/ports.h struct MsgPort: Node(14) + mp_Flags(1) +
// mp_SigBit(1) + mp_SigTask(4) + mp_MsgList (14-byte List) = 34 bytes.
type MsgPort struct{ Addr uint32 }

const MsgPortSize = 34

func (p MsgPort) Node() Node { return Node{p.Addr} }

func (p MsgPort) SigTask(mem *memlayout.Memory) (uint32, error) { return mem.ReadU32(p.Addr + 16) }
func (p MsgPort) SetSigTask(mem *memlayout.Memory, v uint32) error {
	return mem.WriteU32(p.Addr+16, v)
}

// listHeadOffset/listTailOffset/listTailPredOffset are offsets of the
// embedded List's head/tail/tailPred fields relative to the MsgPort's
// address (mp_MsgList starts at offset 20).
const (
	listOffset         = 20
	listHeadOffset      = listOffset + 0
	listTailOffset      = listOffset + 4
	listTailPredOffset  = listOffset + 8
)

func (p MsgPort) Head(mem *memlayout.Memory) (uint32, error) { return mem.ReadU32(p.Addr + listHeadOffset) }
func (p MsgPort) SetHead(mem *memlayout.Memory, v uint32) error {
	return mem.WriteU32(p.Addr+listHeadOffset, v)
}
func (p MsgPort) Tail(mem *memlayout.Memory) (uint32, error) { return mem.ReadU32(p.Addr + listTailOffset) }
func (p MsgPort) SetTail(mem *memlayout.Memory, v uint32) error {
	return mem.WriteU32(p.Addr+listTailOffset, v)
}
func (p MsgPort) TailPred(mem *memlayout.Memory) (uint32, error) {
	return mem.ReadU32(p.Addr + listTailPredOffset)
}
func (p MsgPort) SetTailPred(mem *memlayout.Memory, v uint32) error {
	return mem.WriteU32(p.Addr+listTailPredOffset, v)
}

// Message is exec/ports.h struct Message: Node(14) + mn_ReplyPort(4) +
// mn_Length(2) = 20 bytes.
type Message struct{ Addr uint32 }

const MessageSize = 20

func (m Message) Node() Node { return Node{m.Addr} }

func (m Message) ReplyPort(mem *memlayout.Memory) (uint32, error) { return mem.ReadU32(m.Addr + 14) }
func (m Message) SetReplyPort(mem *memlayout.Memory, v uint32) error {
	return mem.WriteU32(m.Addr+14, v)
}
func (m Message) Length(mem *memlayout.Memory) (uint16, error) { return mem.ReadU16(m.Addr + 18) }
func (m Message) SetLength(mem *memlayout.Memory, v uint16) error {
	return mem.WriteU16(m.Addr+18, v)
}

// DosPacket is dos/dos.h struct DosPacket: dp_Link(4) + dp_Port(4) +
// dp_Type(4) + dp_Res1(4) + dp_Res2(4) + dp_Arg1..dp_Arg7 (4 each) = 48
// bytes.
type DosPacket struct{ Addr uint32 }

const DosPacketSize = 48

func (p DosPacket) SetLink(mem *memlayout.Memory, v uint32) error { return mem.WriteU32(p.Addr+0, v) }
func (p DosPacket) SetPort(mem *memlayout.Memory, v uint32) error { return mem.WriteU32(p.Addr+4, v) }
func (p DosPacket) Port(mem *memlayout.Memory) (uint32, error)    { return mem.ReadU32(p.Addr + 4) }
func (p DosPacket) SetType(mem *memlayout.Memory, v int32) error {
	return mem.WriteU32(p.Addr+8, uint32(v))
}
func (p DosPacket) Type(mem *memlayout.Memory) (int32, error) {
	v, err := mem.ReadU32(p.Addr + 8)
	return int32(v), err
}
func (p DosPacket) Res1(mem *memlayout.Memory) (int32, error) {
	v, err := mem.ReadU32(p.Addr + 12)
	return int32(v), err
}
func (p DosPacket) SetRes1(mem *memlayout.Memory, v int32) error {
	return mem.WriteU32(p.Addr+12, uint32(v))
}
func (p DosPacket) Res2(mem *memlayout.Memory) (int32, error) {
	v, err := mem.ReadU32(p.Addr + 16)
	return int32(v), err
}
func (p DosPacket) SetRes2(mem *memlayout.Memory, v int32) error {
	return mem.WriteU32(p.Addr+16, uint32(v))
}

// argOffset returns the byte offset of dp_ArgN, 1-indexed per AmigaDOS
// convention.
func argOffset(n int) uint32 { return uint32(20 + (n-1)*4) }

func (p DosPacket) Arg(mem *memlayout.Memory, n int) (int32, error) {
	v, err := mem.ReadU32(p.Addr + argOffset(n))
	return int32(v), err
}

func (p DosPacket) SetArg(mem *memlayout.Memory, n int, v int32) error {
	return mem.WriteU32(p.Addr+argOffset(n), uint32(v))
}

// StandardPacket is the conventional "sp_Msg followed by sp_Pkt"
// allocation AmigaDOS clients use to send a packet: the Message's
// ln_Name points at the DosPacket that follows it, and the DosPacket's
// dp_Link points back at the Message (spec.md §4.5, confirmed against
// original_source/amifuse/exec_bootstrap.py's build_packet).
type StandardPacket struct {
	MsgAddr uint32
	PktAddr uint32
}

const StandardPacketSize = MessageSize + DosPacketSize

// NewStandardPacket wires the cross-links between a Message at msgAddr
// and a DosPacket immediately following it at msgAddr+MessageSize.
func NewStandardPacket(mem *memlayout.Memory, msgAddr uint32) (StandardPacket, error) {
	pktAddr := msgAddr + MessageSize
	sp := StandardPacket{MsgAddr: msgAddr, PktAddr: pktAddr}
	if err := (Message{msgAddr}).Node().SetName(mem, pktAddr); err != nil {
		return StandardPacket{}, err
	}
	if err := (DosPacket{pktAddr}).SetLink(mem, msgAddr); err != nil {
		return StandardPacket{}, err
	}
	if err := (Message{msgAddr}).SetLength(mem, uint16(StandardPacketSize)); err != nil {
		return StandardPacket{}, err
	}
	return sp, nil
}

func (sp StandardPacket) Message() Message   { return Message{sp.MsgAddr} }
func (sp StandardPacket) Packet() DosPacket   { return DosPacket{sp.PktAddr} }

// PacketFromMessage recovers the DosPacket a Message carries, following
// the ln_Name back-pointer convention NewStandardPacket establishes.
func PacketFromMessage(mem *memlayout.Memory, msg Message) (DosPacket, error) {
	addr, err := msg.Node().Name(mem)
	if err != nil {
		return DosPacket{}, err
	}
	return DosPacket{addr}, nil
}

// IOStdReq is devices/io.h struct IOStdReq: the common I/O request used
// for trackdisk.device commands. io_Message(20) + io_Device(4) +
// io_Unit(4) + io_Command(2) + io_Flags(1) + io_Error(1) + io_Actual(4)
// + io_Length(4) + io_Data(4) + io_Offset(4) = 48 bytes.
type IOStdReq struct{ Addr uint32 }

const IOStdReqSize = 48

func (io IOStdReq) Message() Message { return Message{io.Addr} }

func (io IOStdReq) Device(mem *memlayout.Memory) (uint32, error) { return mem.ReadU32(io.Addr + 20) }
func (io IOStdReq) SetDevice(mem *memlayout.Memory, v uint32) error {
	return mem.WriteU32(io.Addr+20, v)
}
func (io IOStdReq) Unit(mem *memlayout.Memory) (uint32, error) { return mem.ReadU32(io.Addr + 24) }
func (io IOStdReq) SetUnit(mem *memlayout.Memory, v uint32) error {
	return mem.WriteU32(io.Addr+24, v)
}

func (io IOStdReq) Command(mem *memlayout.Memory) (uint16, error) { return mem.ReadU16(io.Addr + 28) }
func (io IOStdReq) SetCommand(mem *memlayout.Memory, v uint16) error {
	return mem.WriteU16(io.Addr+28, v)
}
func (io IOStdReq) Flags(mem *memlayout.Memory) (uint8, error) { return mem.ReadU8(io.Addr + 30) }
func (io IOStdReq) SetFlags(mem *memlayout.Memory, v uint8) error {
	return mem.WriteU8(io.Addr+30, v)
}
func (io IOStdReq) Error(mem *memlayout.Memory) (int8, error) {
	v, err := mem.ReadU8(io.Addr + 31)
	return int8(v), err
}
func (io IOStdReq) SetError(mem *memlayout.Memory, v int8) error {
	return mem.WriteU8(io.Addr+31, uint8(v))
}
func (io IOStdReq) Actual(mem *memlayout.Memory) (uint32, error) { return mem.ReadU32(io.Addr + 32) }
func (io IOStdReq) SetActual(mem *memlayout.Memory, v uint32) error {
	return mem.WriteU32(io.Addr+32, v)
}
func (io IOStdReq) Length(mem *memlayout.Memory) (uint32, error) { return mem.ReadU32(io.Addr + 36) }
func (io IOStdReq) SetLength(mem *memlayout.Memory, v uint32) error {
	return mem.WriteU32(io.Addr+36, v)
}
func (io IOStdReq) Data(mem *memlayout.Memory) (uint32, error) { return mem.ReadU32(io.Addr + 40) }
func (io IOStdReq) SetData(mem *memlayout.Memory, v uint32) error {
	return mem.WriteU32(io.Addr+40, v)
}
func (io IOStdReq) Offset(mem *memlayout.Memory) (uint32, error) { return mem.ReadU32(io.Addr + 44) }
func (io IOStdReq) SetOffset(mem *memlayout.Memory, v uint32) error {
	return mem.WriteU32(io.Addr+44, v)
}

// FileSysStartupMsg is dos/filehandler.h struct FileSysStartupMsg:
// fssm_Unit(4) + fssm_Device(4, BSTR BPTR) + fssm_Environ(4, BPTR to
// DosEnvec) + fssm_Flags(4) = 16 bytes. Layout confirmed against
// original_source/amifuse/amiga_structs.py.
type FileSysStartupMsg struct{ Addr uint32 }

const FileSysStartupMsgSize = 16

func (f FileSysStartupMsg) SetUnit(mem *memlayout.Memory, v uint32) error {
	return mem.WriteU32(f.Addr+0, v)
}
func (f FileSysStartupMsg) SetDevice(mem *memlayout.Memory, bptr uint32) error {
	return mem.WriteU32(f.Addr+4, bptr)
}
func (f FileSysStartupMsg) SetEnviron(mem *memlayout.Memory, bptr uint32) error {
	return mem.WriteU32(f.Addr+8, bptr)
}
func (f FileSysStartupMsg) SetFlags(mem *memlayout.Memory, v uint32) error {
	return mem.WriteU32(f.Addr+12, v)
}

// DosEnvec field count used by this bridge (de_TableSize through
// de_DosType; trailing fields default to zero). Matches
// original_source/amifuse/amiga_structs.py's DosEnvecStruct, AmigaOS
// dos/filehandler.h.
const DosEnvecFieldCount = 17
const DosEnvecSize = DosEnvecFieldCount * 4

// DosEnvec is the environment vector a handler's startup packet carries:
// geometry and DosType, derived from the image's RDB or synthesized.
type DosEnvec struct{ Addr uint32 }

// Field indices into the DosEnvec long-array, per dos/filehandler.h.
const (
	DeTableSize = 0
	DeSizeBlock = 1
	DeSecOrg    = 2
	DeSurfaces  = 3
	DeSecPerBlk = 4
	DeBlkPerTrk = 5
	DeReserved  = 6
	DePreAlloc  = 7
	DeInterleave = 8
	DeLowCyl    = 9
	DeHighCyl   = 10
	DeNumBuffers = 11
	DeBufMemType = 12
	DeMaxTransfer = 13
	DeMask      = 14
	DeBootPri   = 15
	DeDosType   = 16
)

func (e DosEnvec) SetField(mem *memlayout.Memory, index int, v uint32) error {
	return mem.WriteU32(e.Addr+uint32(index*4), v)
}

func (e DosEnvec) Field(mem *memlayout.Memory, index int) (uint32, error) {
	return mem.ReadU32(e.Addr + uint32(index*4))
}

// Directory entry type tags a FileInfoBlock's fib_DirEntryType carries
// (dos/dos.h). Negative means a plain file; positive means some kind of
// directory (ST_USERDIR the common case, the root and soft-link
// variants also positive).
const (
	STFile     int32 = -3
	STUserDir  int32 = 2
	STRoot     int32 = 1
	STSoftLink int32 = 3
	STLinkDir  int32 = 4
)

// DateStamp is exec/types.h's struct DateStamp: ds_Days(4) +
// ds_Minute(4) + ds_Tick(4) = 12 bytes, all relative to the AmigaDOS
// epoch (1978-01-01).
type DateStamp struct{ Addr uint32 }

const DateStampSize = 12

func (d DateStamp) Days(mem *memlayout.Memory) (int32, error) {
	v, err := mem.ReadU32(d.Addr + 0)
	return int32(v), err
}
func (d DateStamp) Minute(mem *memlayout.Memory) (int32, error) {
	v, err := mem.ReadU32(d.Addr + 4)
	return int32(v), err
}
func (d DateStamp) Tick(mem *memlayout.Memory) (int32, error) {
	v, err := mem.ReadU32(d.Addr + 8)
	return int32(v), err
}

// FileInfoBlock is dos/dos.h struct FileInfoBlock, the structure
// EXAMINE_OBJECT and EXAMINE_NEXT fill in at the caller-supplied buffer
// address (dp_Arg2). Unlike the packets and ports this bridge owns on
// both ends, a FileInfoBlock is written by the handler binary itself,
// so its byte offsets follow the published AmigaOS layout rather than
// any self-consistent convention of this bridge's own:
//
//	fib_DiskKey(4) + fib_DirEntryType(4) + fib_FileName[108] +
//	fib_Protection(4) + fib_EntryType(4) + fib_Size(4) +
//	fib_NumBlocks(4) + fib_Date(12) + fib_Comment[116] +
//	fib_OwnerUID(2) + fib_OwnerGID(2) = 264 bytes.
type FileInfoBlock struct{ Addr uint32 }

const (
	fibFileNameLen = 108
	fibCommentLen  = 116

	fibDirEntryTypeOff = 4
	fibFileNameOff     = 8
	fibProtectionOff   = fibFileNameOff + fibFileNameLen
	fibEntryTypeOff    = fibProtectionOff + 4
	fibSizeOff         = fibEntryTypeOff + 4
	fibNumBlocksOff    = fibSizeOff + 4
	fibDateOff         = fibNumBlocksOff + 4
	fibCommentOff      = fibDateOff + DateStampSize
	fibOwnerUIDOff     = fibCommentOff + fibCommentLen
	fibOwnerGIDOff     = fibOwnerUIDOff + 2
)

const FileInfoBlockSize = fibOwnerGIDOff + 2

// fib_Protection bit values, dos/dos.h's FIBF_* constants. internal/
// fuseadapter derives a host mode from these per spec.md §4.7.
const (
	ProtDelete  uint32 = 1 << 0
	ProtExecute uint32 = 1 << 1
	ProtWrite   uint32 = 1 << 2
	ProtRead    uint32 = 1 << 3
)

func (f FileInfoBlock) DiskKey(mem *memlayout.Memory) (int32, error) {
	v, err := mem.ReadU32(f.Addr + 0)
	return int32(v), err
}

func (f FileInfoBlock) DirEntryType(mem *memlayout.Memory) (int32, error) {
	v, err := mem.ReadU32(f.Addr + fibDirEntryTypeOff)
	return int32(v), err
}

// FileName reads the BSTR filename: a length byte followed by up to
// 107 characters.
func (f FileInfoBlock) FileName(mem *memlayout.Memory) (string, error) {
	return mem.ReadBSTR(f.Addr + fibFileNameOff)
}

func (f FileInfoBlock) SetFileName(mem *memlayout.Memory, name string) error {
	if len(name) > fibFileNameLen-1 {
		name = name[:fibFileNameLen-1]
	}
	return mem.WriteBSTR(f.Addr+fibFileNameOff, name)
}

func (f FileInfoBlock) Protection(mem *memlayout.Memory) (uint32, error) {
	return mem.ReadU32(f.Addr + fibProtectionOff)
}
func (f FileInfoBlock) SetProtection(mem *memlayout.Memory, v uint32) error {
	return mem.WriteU32(f.Addr+fibProtectionOff, v)
}

func (f FileInfoBlock) Size(mem *memlayout.Memory) (int32, error) {
	v, err := mem.ReadU32(f.Addr + fibSizeOff)
	return int32(v), err
}
func (f FileInfoBlock) SetSize(mem *memlayout.Memory, v int32) error {
	return mem.WriteU32(f.Addr+fibSizeOff, uint32(v))
}

func (f FileInfoBlock) NumBlocks(mem *memlayout.Memory) (int32, error) {
	v, err := mem.ReadU32(f.Addr + fibNumBlocksOff)
	return int32(v), err
}

func (f FileInfoBlock) Date() DateStamp { return DateStamp{f.Addr + fibDateOff} }

func (f FileInfoBlock) Comment(mem *memlayout.Memory) (string, error) {
	return mem.ReadBSTR(f.Addr + fibCommentOff)
}

// FileHandle is dos/dosextens.h struct FileHandle, the buffer
// FINDINPUT/FINDOUTPUT fill in at dp_Arg1: fh_Type(4) + fh_Unit(4) +
// fh_Buf(4) + fh_Pos(4) + fh_End(4) + fh_Funcs(4) + fh_Func2(4) +
// fh_Func3(4) + fh_Args(4) + fh_Arg1(4) + fh_Arg2(4) = 44 bytes. Of
// these, only fh_Arg1 matters to a packet-level client: by convention
// the handler stashes its own file identifier there, and that value
// (not the FileHandle's address) is what gets passed as dp_Arg1 to
// every subsequent READ/SEEK/END call against the open file.
type FileHandle struct{ Addr uint32 }

const (
	FileHandleSize = 44
	fhArg1Off      = 36
)

func (fh FileHandle) Arg1(mem *memlayout.Memory) (int32, error) {
	v, err := mem.ReadU32(fh.Addr + fhArg1Off)
	return int32(v), err
}

func (f FileInfoBlock) OwnerUID(mem *memlayout.Memory) (uint16, error) {
	return mem.ReadU16(f.Addr + fibOwnerUIDOff)
}

func (f FileInfoBlock) OwnerGID(mem *memlayout.Memory) (uint16, error) {
	return mem.ReadU16(f.Addr + fibOwnerGIDOff)
}
