// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package fuseadapter

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/reinauer/AmiFUSE/internal/lockcache"
	"github.com/reinauer/AmiFUSE/internal/trackdisk"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory the filesystem is mounted at. It
	// must already exist.
	Mountpoint string

	// Cache is the path/lock/handle cache backing every node.
	Cache *lockcache.Cache

	// Device is the virtual block device statfs reports geometry
	// from. May be nil, in which case Statfs reports ENOSYS.
	Device *trackdisk.Device

	// VolumeName labels the mount for host tools (mount(8), df(1)).
	VolumeName string

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a text logger on
	// stderr that emits only error-level messages is used.
	Logger *slog.Logger
}

// Mount mounts the AmigaDOS filesystem at options.Mountpoint. The
// caller calls Unmount on the returned Server to detach, and must keep
// driving options.Cache's underlying bridge for as long as the server
// is serving requests.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}
	if info, err := os.Stat(options.Mountpoint); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &amiNode{cache: options.Cache, dev: options.Device, path: ""}

	entryTimeout := time.Second
	attrTimeout := time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "amifuse",
			Name:       options.VolumeName,
			AllowOther: options.AllowOther,
			Options:    []string{"ro"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("amifuse mounted", "mountpoint", options.Mountpoint, "volume", options.VolumeName)
	return server, nil
}
