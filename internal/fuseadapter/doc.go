// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuseadapter translates go-fuse's low-level node interfaces
// into internal/lockcache calls (spec.md §4.7, component C7). One
// amiNode represents one AmigaDOS path; there is no distinct root type
// because the volume root is just the node whose path is "".
//
// The mount is read-only end to end: Open rejects write flags
// directly, and no Setattr/Create/Mkdir/Unlink/Rename interfaces are
// implemented, so go-fuse's default ENOSYS applies to every operation
// outside getattr/readdir/open/read/release/statfs, matching spec.md
// §4.7's "all other operations fail with EROFS or ENOSYS as
// appropriate."
package fuseadapter
