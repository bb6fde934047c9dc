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

import (
	"bytes"
	"hash/adler32"
	"io"

	"github.com/n-peugnet/xdstream/delta"
	"github.com/n-peugnet/xdstream/utils"
)

type decState int

const (
	decMagic decState = iota
	decFlags
	decCodec
	decFields
	decPayload
	decWinStart
	decFetch
	decApply
	decWinFinish
)

// The decoder parses incrementally: headers, fields and payloads may
// arrive one byte at a time, split across any number of input chunks.
type decoder struct {
	state decState
	hdrN  int

	flags   byte
	codecId byte

	// uvarint accumulation
	field int
	uv    uint64
	shift uint

	targetLen  int
	srcOff     int64
	srcLen     int
	payloadLen int
	cksum      uint32

	payload    []byte
	lastSrcOff int64
}

// DecodeInput runs one decoding step and returns the signal the driver
// must react to.
func (s *Stream) DecodeInput() Signal {
	if sig, stop := s.begin(modeDecode); stop {
		return sig
	}
	d := &s.dec
	for {
		switch d.state {
		case decMagic:
			for d.hdrN < len(magic) && len(s.in) > 0 {
				if s.in[0] != magic[d.hdrN] {
					if d.hdrN == len(magic)-1 {
						return s.abort(SigUnimplemented,
							"unknown format version: %d", s.in[0])
					}
					return s.abort(SigInvalidInput, "not a delta stream")
				}
				d.hdrN++
				s.in = s.in[1:]
			}
			if d.hdrN < len(magic) {
				return s.needInput("truncated stream header")
			}
			d.state = decFlags
			return SigGotHeader
		case decFlags:
			if len(s.in) == 0 {
				// A clean stream ends exactly here, between windows.
				return SigInput
			}
			d.flags = s.in[0]
			s.in = s.in[1:]
			if d.flags&^flagsKnown != 0 {
				return s.abort(SigUnimplemented, "unknown window flags: %#x", d.flags)
			}
			if d.flags&flagSecondary != 0 && !s.opt.Secondary {
				return s.abort(SigNoSecond,
					"window needs the secondary compressor")
			}
			d.field = 0
			d.uv = 0
			d.shift = 0
			if d.flags&flagDelta != 0 {
				d.state = decCodec
			} else {
				d.state = decFields
			}
		case decCodec:
			if len(s.in) == 0 {
				return s.needInput("truncated window frame")
			}
			d.codecId = s.in[0]
			s.in = s.in[1:]
			if _, err := delta.ById(d.codecId); err != nil {
				return s.abort(SigUnimplemented, "%s", err)
			}
			d.state = decFields
		case decFields:
			if sig, done := s.parseFields(); !done {
				return sig
			}
			d.payload = d.payload[:0]
			d.state = decPayload
		case decPayload:
			take := d.payloadLen - len(d.payload)
			if take > len(s.in) {
				take = len(s.in)
			}
			d.payload = append(d.payload, s.in[:take]...)
			s.in = s.in[take:]
			if len(d.payload) < d.payloadLen {
				return s.needInput("truncated window payload")
			}
			d.state = decWinStart
		case decWinStart:
			want := 0
			if d.flags&flagDelta != 0 {
				if d.srcOff < d.lastSrcOff {
					return s.abort(SigTooFarBack,
						"window source offset %d is before the previous one %d",
						d.srcOff, d.lastSrcOff)
				}
				d.lastSrcOff = d.srcOff
				want = d.srcLen
			}
			s.resetFetch(d.srcOff, want)
			d.state = decFetch
			return SigWinStart
		case decFetch:
			if sig, done := s.stepFetch(); !done {
				return sig
			}
			if len(s.fetch.buf) < s.fetch.want {
				return s.abort(SigInvalid,
					"reference ends before the window's source range")
			}
			d.state = decApply
		case decApply:
			if sig := s.applyWindow(); sig.Terminal() {
				return sig
			}
			d.state = decWinFinish
			if s.outSet {
				return SigOutput
			}
		case decWinFinish:
			// Only reached once any produced output was acknowledged.
			d.state = decFlags
			return SigWinFinish
		}
	}
}

// needInput asks for the next chunk, unless the input was flushed in which
// case the stream ended in the middle of a structure.
func (s *Stream) needInput(diag string) Signal {
	if s.flush {
		return s.abort(SigInvalidInput, "%s", diag)
	}
	return SigInput
}

// parseFields accumulates the window frame's uvarint fields.
func (s *Stream) parseFields() (sig Signal, done bool) {
	d := &s.dec
	isDelta := d.flags&flagDelta != 0
	count := 3
	if isDelta {
		count = 5
	}
	for d.field < count {
		if len(s.in) == 0 {
			return s.needInput("truncated window frame"), false
		}
		b := s.in[0]
		s.in = s.in[1:]
		if d.shift > 63 {
			return s.abort(SigInvalidInput, "window field overflows"), false
		}
		d.uv |= uint64(b&0x7f) << d.shift
		d.shift += 7
		if b >= 0x80 {
			continue
		}
		v := d.uv
		d.uv = 0
		d.shift = 0
		idx := d.field
		if !isDelta && idx > 0 {
			idx += 2 // literal frames skip the source fields
		}
		switch idx {
		case 0, 2, 3:
			// Length fields are bounded so that a corrupt frame cannot
			// trigger an absurd allocation.
			if v > maxFieldLen {
				return s.abort(SigInvalid, "unreasonable window length: %d", v), false
			}
		case 4:
			if v > 0xffffffff {
				return s.abort(SigInvalid, "unreasonable window checksum: %d", v), false
			}
		}
		switch idx {
		case 0:
			d.targetLen = int(v)
		case 1:
			d.srcOff = int64(v)
		case 2:
			d.srcLen = int(v)
		case 3:
			d.payloadLen = int(v)
		case 4:
			d.cksum = uint32(v)
		}
		d.field++
	}
	return SigInput, true
}

// applyWindow reconstructs the window bytes from the parsed frame and the
// fetched source window.
func (s *Stream) applyWindow() Signal {
	d := &s.dec
	payload := d.payload
	if d.flags&flagSecondary != 0 {
		zr, err := utils.ZlibReader(bytes.NewReader(payload))
		if err != nil {
			return s.abort(SigInvalid, "secondary decompressor: %s", err)
		}
		payload, err = io.ReadAll(zr)
		if err != nil {
			zr.Close()
			return s.abort(SigInvalid, "secondary decompressor: %s", err)
		}
		if err := zr.Close(); err != nil {
			return s.abort(SigInvalid, "secondary decompressor: %s", err)
		}
	}
	var target []byte
	if d.flags&flagDelta != 0 {
		codec, err := delta.ById(d.codecId)
		if err != nil {
			return s.abort(SigInternal, "%s", err)
		}
		var buf bytes.Buffer
		err = codec.Patch(bytes.NewReader(s.fetch.buf), &buf, bytes.NewReader(payload))
		if err != nil {
			return s.abort(SigInvalid, "apply window delta: %s", err)
		}
		target = buf.Bytes()
	} else {
		target = payload
	}
	if len(target) != d.targetLen {
		return s.abort(SigInvalid, "decoded window length %d does not match the frame's %d",
			len(target), d.targetLen)
	}
	if adler32.Checksum(target) != d.cksum {
		return s.abort(SigInvalid, "window checksum mismatch")
	}
	if len(target) > 0 {
		s.out = append(s.out[:0], target...)
		s.outSet = true
	}
	return SigOutput
}
