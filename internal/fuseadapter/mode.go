// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package fuseadapter

import (
	"syscall"

	"github.com/reinauer/AmiFUSE/internal/dos"
	"github.com/reinauer/AmiFUSE/internal/lockcache"
)

// modeFor derives a host file mode from an AmigaDOS attribute, per
// spec.md §4.7: directories are 0555, files 0444, and a file with its
// fib_Protection FIBF_EXECUTE bit set also gets the execute bits
// (0555). The mount never grants write bits — it is read-only end to
// end — so FIBF_WRITE plays no part here.
func modeFor(attr lockcache.Attr) uint32 {
	if attr.Kind == lockcache.KindDir {
		return syscall.S_IFDIR | 0o555
	}
	mode := uint32(syscall.S_IFREG | 0o444)
	if attr.Protection&dos.ProtExecute != 0 {
		mode |= 0o111
	}
	return mode
}
