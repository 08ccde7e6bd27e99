// Copyright 2025 The mapzip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mapzip

import (
	"io/fs"
	"time"
)

// Time conversion functions. DOS timestamps have 2-second resolution and
// a 1980 epoch; out-of-range values are clamped.
func timeToMsDos(t time.Time) (dosDate uint16, dosTime uint16) {
	year := min(max(t.Year()-1980, 0), 127)
	month := uint16(t.Month())
	day := uint16(t.Day())
	hour := uint16(t.Hour())
	minute := uint16(t.Minute())
	second := uint16(t.Second())

	dosDate = uint16(year)<<9 | uint16(month)<<5 | day
	dosTime = uint16(hour)<<11 | uint16(minute)<<5 | uint16(second/2)
	return dosDate, dosTime
}

func msDosToTime(dosDate uint16, dosTime uint16) time.Time {
	day := dosDate & 0x1F
	month := (dosDate >> 5) & 0x0F
	year := int((dosDate>>9)&0x7F) + 1980
	second := (dosTime & 0x1F) * 2
	minute := (dosTime >> 5) & 0x3F
	hour := (dosTime >> 11) & 0x1F

	if month < 1 || month > 12 {
		month = 1
	}
	if day < 1 || day > 31 {
		day = 1
	}

	return time.Date(year, time.Month(month), int(day), int(hour), int(minute), int(second), 0, time.UTC)
}

// External attribute helpers. The high 16 bits carry Unix mode bits when
// version-made-by says the entry was written on a Unix host; the low byte
// holds MS-DOS attributes, of which only the directory bit matters here.
const msdosDirAttr = 0x10

func modeToExternalAttrs(mode fs.FileMode, isDir bool) uint32 {
	attrs := uint32(mode.Perm())
	if isDir {
		attrs |= 0o40000 // S_IFDIR
	} else {
		attrs |= 0o100000 // S_IFREG
	}
	attrs <<= 16
	if isDir {
		attrs |= msdosDirAttr
	}
	return attrs
}

func externalAttrsToMode(attrs uint32, isDir bool) fs.FileMode {
	mode := fs.FileMode(attrs>>16) & fs.ModePerm
	if mode == 0 {
		if isDir {
			mode = 0o755
		} else {
			mode = 0o644
		}
	}
	return mode
}
