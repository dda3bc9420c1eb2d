// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge implements the synchronous AmigaDOS packet RPC
// (spec.md §4.5, component C5): build a DosPacket, deliver it to the
// handler's port, drive the emulator in bounded cycle slices until the
// reply port receives it (or a budget runs out), and decode the
// result. Every Call holds the CPU lock for its whole duration — the
// bridge is the one place that actually resumes the emulator once the
// handler is booted.
package bridge
