// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package execkernel

import (
	"github.com/reinauer/AmiFUSE/internal/dos"
	"github.com/reinauer/AmiFUSE/internal/emu"
	"github.com/reinauer/AmiFUSE/internal/memlayout"
)

// Device is a host-implemented device driver bound to an IOStdReq's
// command set: internal/trackdisk implements it for trackdisk.device.
type Device interface {
	// Perform executes an I/O request synchronously against io, writing
	// io_Actual as appropriate. The returned errCode is AmigaDOS's
	// io_Error convention: 0 for success, nonzero otherwise.
	Perform(mem *memlayout.Memory, io dos.IOStdReq) (errCode int8, err error)
}

// deviceBase is the sentinel value OpenDevice writes into io_Device.
// It identifies this kernel as the owner of the request, not a real
// library base; the actual driver binding lives in k.openReqs, keyed
// by the IORequest's own address.
const deviceBase = 0x00444556

// IOERR_* per AmigaOS devices/devices.h: io_Error is a signed byte,
// and these are its negative standard values.
const (
	ioErrOpenFail int8 = -1
	ioErrNoCmd    int8 = -3
)

// InstallDevice registers dev under name for OpenDevice to find.
func (k *Kernel) InstallDevice(name string, dev Device) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.devices[name] = dev
}

// InstallDeviceVectors wires OpenDevice/DoIO/SendIO/WaitIO/CheckIO at
// base into em. Call it once; OpenDevice resolves the specific driver
// per call from the name it's given.
func (k *Kernel) InstallDeviceVectors(em emu.Emulator, base uint32) error {
	vectors := []emu.TrapFunc{k.trapOpenDevice, k.trapDoIO, k.trapSendIO, k.trapWaitIO, k.trapCheckIO}
	for idx, h := range vectors {
		addr := uint32(int32(base) + execVectorOffset(idx))
		if err := k.mem.WriteU16(addr, trapOpcodeBase+0x100+uint16(idx)); err != nil {
			return err
		}
		em.InstallTrap(addr, h)
	}
	return nil
}

func (k *Kernel) trapOpenDevice(regs *emu.Registers) (idle bool, err error) {
	name, err := k.mem.ReadCString(regs.A[0])
	if err != nil {
		return false, err
	}
	io := dos.IOStdReq{Addr: regs.A[1]}

	k.mu.Lock()
	dev, known := k.devices[name]
	if known {
		k.openReqs[io.Addr] = dev
	}
	k.mu.Unlock()

	if !known {
		errCode := ioErrOpenFail
		regs.D[0] = uint32(int32(errCode))
		return false, nil
	}
	if err := io.SetDevice(k.mem, deviceBase); err != nil {
		return false, err
	}
	if err := io.SetUnit(k.mem, regs.D[0]); err != nil {
		return false, err
	}
	regs.D[0] = 0
	return false, nil
}

func (k *Kernel) performIO(ioAddr uint32) error {
	io := dos.IOStdReq{Addr: ioAddr}
	k.mu.Lock()
	dev, ok := k.openReqs[ioAddr]
	k.mu.Unlock()
	if !ok {
		return io.SetError(k.mem, ioErrNoCmd) // never opened
	}
	code, err := dev.Perform(k.mem, io)
	if err != nil {
		return err
	}
	return io.SetError(k.mem, code)
}

func (k *Kernel) trapDoIO(regs *emu.Registers) (idle bool, err error) {
	if err := k.performIO(regs.A[1]); err != nil {
		return false, err
	}
	return false, nil
}

// trapSendIO starts the request and immediately replies it: this
// bridge never runs I/O concurrently with CPU execution, so
// SendIO/WaitIO's asynchrony collapses to DoIO followed by an
// immediate ReplyMsg, which WaitIO then finds already satisfied.
func (k *Kernel) trapSendIO(regs *emu.Registers) (idle bool, err error) {
	if err := k.performIO(regs.A[1]); err != nil {
		return false, err
	}
	return false, k.ReplyMsg(regs.A[1])
}

func (k *Kernel) trapWaitIO(regs *emu.Registers) (idle bool, err error) {
	// The request's message was already replied by trapSendIO; WaitIO's
	// contract is to return the io_Error it carries.
	io := dos.IOStdReq{Addr: regs.A[1]}
	code, err := io.Error(k.mem)
	if err != nil {
		return false, err
	}
	regs.D[0] = uint32(int32(code))
	return false, nil
}

func (k *Kernel) trapCheckIO(regs *emu.Registers) (idle bool, err error) {
	// Always complete, per trapSendIO's synchronous model: CheckIO
	// returns 0 (NULL) for "already done".
	regs.D[0] = 0
	return false, nil
}
