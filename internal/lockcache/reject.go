// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package lockcache

import "strings"

// rejectedNames answers a fixed set of host indexing-daemon artifacts
// with ENOENT before a single packet is built — load-shedding for
// paths no Amiga filesystem will ever contain (spec.md §4.6).
var rejectedNames = map[string]bool{
	".DS_Store":             true,
	".Spotlight-V100":       true,
	".Trashes":              true,
	".fseventsd":            true,
	".hidden":               true,
	".metadata_never_index": true,
}

// isMetadataPath reports whether base (a path's final component)
// matches the rejection list above, including the "._*" AppleDouble
// prefix.
func isMetadataPath(base string) bool {
	if rejectedNames[base] {
		return true
	}
	return strings.HasPrefix(base, "._")
}

// maxNameLength is AmigaDOS's BSTR filename cap (spec.md §4.5): names
// longer than this are rejected with ENOENT (the errno
// ERROR_OBJECT_NOT_FOUND maps to) without a round-trip. 107 because a BSTR's length byte can describe at most
// 255 characters but this bridge's FileInfoBlock buffer (and most
// real filesystems) caps fib_FileName at 108 bytes including the
// length byte.
const maxNameLength = 107
