/* Copyright (C) 2022 Nicolas Peugnet <n.peugnet@free.fr>

   This file is part of xdstream.

   xdstream is free software: you can redistribute it and/or modify
   it under the terms of the GNU General Public License as published by
   the Free Software Foundation, either version 3 of the License, or
   (at your option) any later version.

   xdstream is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU General Public License for more details.

   You should have received a copy of the GNU General Public License
   along with xdstream.  If not, see <https://www.gnu.org/licenses/>. */

package xdelta

import "encoding/binary"

// Stream layout: a four byte header (magic plus format version), then one
// frame per window:
//
//	flags     1 byte
//	codec id  1 byte, delta windows only
//	target length   uvarint
//	source offset   uvarint, delta windows only
//	source length   uvarint, delta windows only
//	payload length  uvarint
//	window checksum uvarint, adler32 of the decoded window
//	payload bytes
//
// Window frames appear in target order and their source ranges never move
// backwards, so a decoder can serve them from a forward-only block cache.
var magic = [4]byte{0xd6, 0xc3, 0xc4, 0x00}

// Window flags.
const (
	flagDelta     = 1 << 0 // payload is a delta against the source range
	flagSecondary = 1 << 1 // payload is zlib-compressed
	flagsKnown    = flagDelta | flagSecondary
)

// maxFieldLen bounds the window fields a decoder will accept, so that a
// corrupt length cannot trigger an absurd allocation.
const maxFieldLen = 1 << 30

// Resemblance sketch parameters, in the encoder's delta-or-literal gate.
const (
	sketchWSize   = 32
	sketchSfCount = 3
	sketchFCount  = 4
)

func appendUvarint(b []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(b, tmp[:n]...)
}
