// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

// Command amifuse mounts an Amiga hard-disk image's filesystem, served
// by its own handler binary, as a read-only FUSE mount (spec.md §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeebo/blake3"

	"github.com/reinauer/AmiFUSE/internal/amierr"
	"github.com/reinauer/AmiFUSE/internal/bridge"
	"github.com/reinauer/AmiFUSE/internal/clock"
	"github.com/reinauer/AmiFUSE/internal/dos"
	"github.com/reinauer/AmiFUSE/internal/execkernel"
	"github.com/reinauer/AmiFUSE/internal/fuseadapter"
	"github.com/reinauer/AmiFUSE/internal/hunk"
	"github.com/reinauer/AmiFUSE/internal/lockcache"
	"github.com/reinauer/AmiFUSE/internal/memlayout"
	"github.com/reinauer/AmiFUSE/internal/trace"
	"github.com/reinauer/AmiFUSE/internal/trackdisk"
)

// Exit codes, per spec.md §6 and SPEC_FULL.md's -inspect addendum.
const (
	exitSuccess       = 0
	exitArgumentError = 1
	exitBootFailed    = 2
	exitMountFailed   = 3
	exitImageError    = 4
)

// Arena region sizes for the booted handler's address space. Generous
// enough for any hunk file this bridge's Non-goals permit, without
// approaching memlayout.DefaultSize.
const (
	arenaBase     = 0x1000
	segmentsSize  = 4 * 1024 * 1024
	kernelSize    = 64 * 1024
	heapSize      = 1024 * 1024
	stackSize     = 16 * 1024
	defaultDevice = "DH0"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		driverPath       string
		imagePath        string
		mountpoint       string
		blockSizeFlag    uint
		volname          string
		debug            bool
		bootstrapTimeout time.Duration
		packetTimeout    time.Duration
		tracePath        string
		inspectPath      string
	)
	flag.StringVar(&driverPath, "driver", "", "path to the AmigaDOS handler binary (hunk executable, required unless -inspect)")
	flag.StringVar(&imagePath, "image", "", "path to the disk image (required unless -inspect)")
	flag.StringVar(&mountpoint, "mountpoint", "", "directory to mount at (required unless -inspect)")
	flag.UintVar(&blockSizeFlag, "block-size", 512, "block size to use when the image carries no RDB")
	flag.StringVar(&volname, "volname", "Amiga", "volume name reported to the host")
	flag.BoolVar(&debug, "debug", false, "enable debug-level logging")
	flag.DurationVar(&bootstrapTimeout, "bootstrap-timeout", hunk.DefaultBootTimeout, "wall-clock budget for the handler's startup packet")
	flag.DurationVar(&packetTimeout, "packet-timeout", bridge.DefaultCallTimeout, "wall-clock budget for each FUSE-triggered packet call")
	flag.StringVar(&tracePath, "trace", "", "append a CBOR trace record per packet call to this file")
	flag.StringVar(&inspectPath, "inspect", "", "inspect a handler binary's hunk layout and exit, without mounting anything")
	flag.Parse()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if inspectPath != "" {
		return runInspect(inspectPath, logger)
	}

	if driverPath == "" || imagePath == "" || mountpoint == "" {
		fmt.Fprintln(os.Stderr, "amifuse: -driver, -image, and -mountpoint are required")
		return exitArgumentError
	}

	return runMount(mountConfig{
		driverPath:       driverPath,
		imagePath:        imagePath,
		mountpoint:       mountpoint,
		blockSize:        uint32(blockSizeFlag),
		volname:          volname,
		bootstrapTimeout: bootstrapTimeout,
		packetTimeout:    packetTimeout,
		tracePath:        tracePath,
	}, logger)
}

// runInspect drives the standalone hunk inspector (SPEC_FULL.md's
// EXTERNAL INTERFACES addendum): it never opens an image or mounts
// anything.
func runInspect(path string, logger *slog.Logger) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: reading %s: %v\n", path, err)
		return exitArgumentError
	}
	report, err := hunk.Inspect(path, data, hunk.DefaultInspectBase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: %v\n", err)
		if amierr.IsHandlerLoadError(err) {
			return exitBootFailed
		}
		return exitArgumentError
	}
	report.Print(os.Stdout)
	return exitSuccess
}

type mountConfig struct {
	driverPath       string
	imagePath        string
	mountpoint       string
	blockSize        uint32
	volname          string
	bootstrapTimeout time.Duration
	packetTimeout    time.Duration
	tracePath        string
}

// runMount loads the handler binary, boots it against the disk image,
// mounts the translated filesystem, and blocks until SIGINT or SIGTERM.
// A fatal bridge error does not end the mount; only a signal starts the
// unmount.
func runMount(cfg mountConfig, logger *slog.Logger) int {
	driverData, err := os.ReadFile(cfg.driverPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: reading handler %s: %v\n", cfg.driverPath, err)
		return exitArgumentError
	}
	hasher := blake3.New()
	hasher.Write(driverData)
	digest := hasher.Sum(nil)
	logger.Info("handler loaded", "path", cfg.driverPath, "blake3", fmt.Sprintf("%x", digest), "bytes", len(driverData))

	imageFile, err := os.Open(cfg.imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: opening image %s: %v\n", cfg.imagePath, err)
		return exitImageError
	}
	defer imageFile.Close()
	imageInfo, err := imageFile.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: stat %s: %v\n", cfg.imagePath, err)
		return exitImageError
	}

	blockSize := cfg.blockSize
	var envec [dos.DosEnvecFieldCount]uint32
	rdb, err := trackdisk.ParseRDB(imageFile)
	switch {
	case err == nil:
		blockSize = rdb.BlockSize
		envec = rdb.FirstPartition.Envec
		logger.Info("RDB found", "block_size", blockSize, "dos_type", fmt.Sprintf("%08x", rdb.FirstPartition.DosType))
	case err == trackdisk.ErrNoRDB:
		logger.Info("no RDB present, using synthesized geometry", "block_size", blockSize)
	default:
		fmt.Fprintf(os.Stderr, "amifuse: parsing RDB: %v\n", err)
		return exitImageError
	}

	dev := trackdisk.New(imageFile, imageInfo.Size(), blockSize)
	if rdb == nil {
		envec = synthesizeEnvec(dev.Geometry())
	}

	mem := memlayout.New(memlayout.DefaultSize)
	arena, err := memlayout.NewArena(mem, arenaBase, segmentsSize, kernelSize, heapSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: %v\n", err)
		return exitBootFailed
	}

	cpu, err := newCPU(mem)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: %v\n", err)
		return exitBootFailed
	}

	f, err := hunk.Parse(cfg.driverPath, driverData)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: %v\n", err)
		return exitBootFailed
	}
	loaded, err := hunk.Load(mem, arena, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: %v\n", err)
		return exitBootFailed
	}

	taskAddr, err := arena.Alloc(memlayout.RegionKernel, 64, 4)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: %v\n", err)
		return exitBootFailed
	}
	k := execkernel.New(mem, arena, taskAddr)

	// 12 exec.library vectors, 6 bytes per slot (internal/execkernel's
	// vectorSlotSize/execVectorCount). The slots sit at negative offsets
	// from the library base, so the base is the end of the allocation.
	execTable, err := arena.Alloc(memlayout.RegionKernel, 12*6, 2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: %v\n", err)
		return exitBootFailed
	}
	execBase := execTable + 12*6
	if err := k.InstallExecLibrary(cpu, execBase); err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: %v\n", err)
		return exitBootFailed
	}

	// OpenDevice/DoIO/SendIO/WaitIO/CheckIO: 5 vectors, 6 bytes per slot,
	// also at negative offsets from their base.
	deviceTable, err := arena.Alloc(memlayout.RegionKernel, 5*6, 2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: %v\n", err)
		return exitBootFailed
	}
	deviceVectorBase := deviceTable + 5*6
	if err := k.InstallDeviceVectors(cpu, deviceVectorBase); err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: %v\n", err)
		return exitBootFailed
	}
	k.InstallDevice("trackdisk.device", dev)
	k.InstallDevice("amifuse.device", dev)

	stackAddr, err := arena.Alloc(memlayout.RegionKernel, stackSize, 4)
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: %v\n", err)
		return exitBootFailed
	}
	regs := cpu.Registers()
	regs.PC = loaded.EntryPoint
	regs.SetSP(stackAddr + stackSize)
	regs.A[6] = execBase

	clk := clock.Real()
	rootLock, handlerPort, err := hunk.Boot(cpu, k, mem, arena, clk, hunk.BootConfig{
		DeviceName: defaultDevice,
		Envec:      envec,
		Timeout:    cfg.bootstrapTimeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: %v\n", err)
		return exitBootFailed
	}
	logger.Info("handler booted", "root_lock", rootLock, "handler_port", fmt.Sprintf("%#x", handlerPort))

	var tracer *trace.Writer
	if cfg.tracePath != "" {
		traceFile, err := os.Create(cfg.tracePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "amifuse: opening trace file %s: %v\n", cfg.tracePath, err)
			return exitBootFailed
		}
		defer traceFile.Close()
		tracer = trace.NewWriter(traceFile)
	}

	br, err := bridge.New(cpu, k, mem, arena, clk, handlerPort, bridge.Config{
		Timeout: cfg.packetTimeout,
		Trace:   tracer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: %v\n", err)
		return exitBootFailed
	}

	cache := lockcache.New(br, mem, arena, rootLock)

	server, err := fuseadapter.Mount(fuseadapter.Options{
		Mountpoint: cfg.mountpoint,
		Cache:      cache,
		Device:     dev,
		VolumeName: cfg.volname,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: %v\n", err)
		return exitMountFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("shutting down")

	if err := cache.Close(); err != nil {
		logger.Error("closing lock cache", "error", err)
	}
	if err := server.Unmount(); err != nil {
		fmt.Fprintf(os.Stderr, "amifuse: unmounting: %v\n", err)
		return exitMountFailed
	}
	return exitSuccess
}

// synthesizeEnvec builds a plausible DosEnvec from a synthesized
// Geometry, for images with no RDB (spec.md §4.3's fallback path).
// DosType defaults to "DOS\0" (OFS), since an RDB-less image carries no
// filesystem identification of its own.
func synthesizeEnvec(geom trackdisk.Geometry) [dos.DosEnvecFieldCount]uint32 {
	var e [dos.DosEnvecFieldCount]uint32
	e[dos.DeTableSize] = dos.DosEnvecFieldCount - 1
	e[dos.DeSizeBlock] = geom.BlockSize / 4
	e[dos.DeSurfaces] = geom.Heads
	e[dos.DeSecPerBlk] = 1
	e[dos.DeBlkPerTrk] = geom.SectorsPerTrack
	e[dos.DeLowCyl] = 0
	if geom.Cylinders > 0 {
		e[dos.DeHighCyl] = geom.Cylinders - 1
	}
	e[dos.DeNumBuffers] = 5
	e[dos.DeMaxTransfer] = 0xFFFFFFFF
	e[dos.DeMask] = 0x7FFFFFFE
	e[dos.DeDosType] = 0x444F5300 // "DOS\0"
	return e
}
