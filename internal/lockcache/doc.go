// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

// Package lockcache maps host paths to AmigaDOS locks and open file
// handles, minimizing packet round-trips through internal/bridge (the
// dominant cost of every FUSE request). A path→attributes map caches
// the stat data LOCATE_OBJECT and EXAMINE_OBJECT produced for each path
// (and, for a listed directory, its children); it holds no locks, since
// every lock is freed before the call that acquired it returns. A small
// fixed-size LRU tracks open file handles across reads. Both
// are guarded by one mutex; the packet calls that fill them run under
// internal/bridge's own CPU lock.
package lockcache
