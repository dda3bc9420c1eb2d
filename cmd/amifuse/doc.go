// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

// Command amifuse wires internal/trackdisk, internal/hunk,
// internal/execkernel, internal/bridge, internal/lockcache, and
// internal/fuseadapter together into a running mount (spec.md §6). See
// cpu.go for the one collaborator this binary does not ship: the m68k
// core that decodes the handler binary's own instructions.
package main
