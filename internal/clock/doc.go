// Package clock provides an injectable time abstraction for testability.
//
// The handler bootstrap (internal/hunk) and packet bridge
// (internal/bridge) both drive the emulator against a wall-clock budget —
// spec.md §4.4 and §4.5 — and both accept a Clock instead of calling
// time.Now/time.After directly, so the timeout paths can be exercised
// deterministically in tests with Fake() instead of racing a real clock.
//
// Production code uses Real(). Tests use Fake() and call Advance to fire
// a pending bootstrap or packet timeout on demand.
package clock
