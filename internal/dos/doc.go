// Package dos defines the AmigaDOS/Exec wire layout this module's
// bridge marshals across the host/emulator boundary: action codes,
// AmigaDOS error numbers, and the byte-offset layout of the Exec/DOS
// structures in spec.md §3 (MsgPort, Message, DosPacket, IORequest,
// FileSysStartupMsg, DosEnvec).
//
// Offsets follow AmigaOS 3.x dos/filehandler.h and exec/*.h layouts, as
// confirmed against original_source/amifuse/amiga_structs.py and
// other_examples' AmigaDOS handler bridge. Nothing in this package
// touches emulator RAM directly — internal/memlayout does the actual
// reads and writes, keyed by the offsets defined here.
package dos
