// Copyright 2026 The AmiFUSE Authors
// SPDX-License-Identifier: Apache-2.0

package dos

import "time"

// amigaEpoch is midnight, 1978-01-01, local time — the zero point for
// AmigaDOS DateStamp values (spec.md §3), confirmed against
// other_examples' AmigaDOS handler bridge (`AmigaEpoch`).
var amigaEpoch = time.Date(AmigaEpochYear, time.Month(AmigaEpochMonth), AmigaEpochDay, 0, 0, 0, 0, time.Local)

// HostDateStamp is AmigaDOS's three-field timestamp: days since the
// epoch, minutes past midnight, and ticks (1/50s) past the minute,
// held as plain values (as opposed to DateStamp, which addresses the
// same layout inside emulated memory).
type HostDateStamp struct {
	Days    int32
	Minutes int32
	Ticks   int32
}

// ToTime converts a HostDateStamp to a host time.Time.
func (d HostDateStamp) ToTime() time.Time {
	return amigaEpoch.
		AddDate(0, 0, int(d.Days)).
		Add(time.Duration(d.Minutes) * time.Minute).
		Add(time.Duration(d.Ticks) * (time.Second / 50))
}

// FromTime converts a host time.Time to an AmigaDOS HostDateStamp.
func FromTime(t time.Time) HostDateStamp {
	since := t.Sub(amigaEpoch)
	days := int32(since / (24 * time.Hour))
	rem := since % (24 * time.Hour)
	minutes := int32(rem / time.Minute)
	rem -= time.Duration(minutes) * time.Minute
	ticks := int32(rem / (time.Second / 50))
	return HostDateStamp{Days: days, Minutes: minutes, Ticks: ticks}
}
