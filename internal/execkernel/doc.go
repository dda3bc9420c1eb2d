// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

// Package execkernel is the virtual Exec microkernel the loaded handler
// runs against: just enough of exec.library to satisfy a filesystem
// handler's startup and packet loop — memory allocation, message ports,
// one cooperatively-scheduled task, and library/device open-and-dispatch
// — without emulating AmigaOS's multitasking scheduler, since this
// bridge only ever drives one task at a time (spec.md §3, §6).
//
// Kernel methods are plain Go calls: AllocMem, CreatePort, PutMsg, and
// so on can be exercised directly from tests. cmd/amifuse wires the same
// methods to library and device jump-table addresses via
// InstallExecLibrary/InstallDeviceVectors, so a real or fake
// emu.Emulator reaches them through trap dispatch instead.
package execkernel
