// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

// Package trackdisk is the virtual trackdisk.device (spec.md §4.3,
// component C3): it answers the handler's CMD_READ/CMD_WRITE/TD_*
// requests against a read-only host image file, and parses the image's
// Rigid Disk Block (RDB) partition table, since block-size and DosType
// auto-detection is this device's responsibility, not the bootstrap's.
package trackdisk
