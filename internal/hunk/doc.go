// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

// Package hunk parses the Amiga hunk executable format (spec.md §4.4),
// applies its relocations against segments allocated in emulator RAM,
// and drives the handler bootstrap: placing the startup DosPacket on
// the handler's first message port and running the CPU until it
// replies. It is component C4.
package hunk
