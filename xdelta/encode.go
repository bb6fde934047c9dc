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

	"github.com/n-peugnet/xdstream/sketch"
	"github.com/n-peugnet/xdstream/utils"
)

type encState int

const (
	encGather encState = iota
	encWinStart
	encFetch
	encEmit
	encWinFinish
)

type encoder struct {
	state      encState
	win        []byte // input gathered for the current window
	winOff     int64  // target offset of the window start
	headerSent bool
	finished   bool
}

// EncodeInput runs one encoding step and returns the signal the driver
// must react to.
func (s *Stream) EncodeInput() Signal {
	if sig, stop := s.begin(modeEncode); stop {
		return sig
	}
	e := &s.enc
	if e.win == nil {
		e.win = make([]byte, 0, s.opt.WinSize)
	}
	for {
		switch e.state {
		case encGather:
			if e.finished {
				return SigInput
			}
			free := s.opt.WinSize - len(e.win)
			take := free
			if take > len(s.in) {
				take = len(s.in)
			}
			e.win = append(e.win, s.in[:take]...)
			s.in = s.in[take:]
			switch {
			case len(e.win) == s.opt.WinSize:
				e.state = encWinStart
			case !s.flush:
				return SigInput
			case len(e.win) > 0 || !e.headerSent:
				// Final window. It can be empty: a zero-length input
				// still produces the stream header.
				e.state = encWinStart
			default:
				e.finished = true
				return SigInput
			}
		case encWinStart:
			want := s.opt.WinSize
			if len(e.win) == 0 {
				want = 0
			}
			if s.srcTotal >= 0 && e.winOff >= s.srcTotal {
				want = 0
			}
			s.resetFetch(e.winOff, want)
			e.state = encFetch
			return SigWinStart
		case encFetch:
			if sig, done := s.stepFetch(); !done {
				return sig
			}
			e.state = encEmit
		case encEmit:
			if sig := s.emitWindow(); sig.Terminal() {
				return sig
			}
			e.state = encWinFinish
			return SigOutput
		case encWinFinish:
			// Only reached once the driver acknowledged the output.
			e.winOff += int64(len(e.win))
			e.win = e.win[:0]
			e.state = encGather
			return SigWinFinish
		}
	}
}

// emitWindow frames the gathered window into the output buffer, choosing
// the smaller of a delta against the fetched source window or the literal
// bytes.
func (s *Stream) emitWindow() Signal {
	inWin := s.enc.win
	srcWin := s.fetch.buf
	payload := inWin
	var flags byte
	if len(srcWin) > 0 && len(inWin) > 0 && s.resemble(srcWin, inWin) {
		var patch bytes.Buffer
		err := s.opt.Codec.Diff(bytes.NewReader(srcWin), bytes.NewReader(inWin), &patch)
		if err != nil {
			return s.abort(SigInternal, "delta codec: %s", err)
		}
		if patch.Len() < len(inWin) {
			flags |= flagDelta
			payload = patch.Bytes()
		}
	}
	if s.opt.Secondary && len(payload) >= 64 {
		var pressed bytes.Buffer
		zw := utils.ZlibWriter(&pressed)
		if _, err := zw.Write(payload); err != nil {
			return s.abort(SigInternal, "secondary compressor: %s", err)
		}
		if err := zw.Close(); err != nil {
			return s.abort(SigInternal, "secondary compressor: %s", err)
		}
		if pressed.Len() < len(payload) {
			flags |= flagSecondary
			payload = pressed.Bytes()
		}
	}
	out := s.out[:0]
	if !s.enc.headerSent {
		out = append(out, magic[:]...)
		s.enc.headerSent = true
	}
	out = append(out, flags)
	if flags&flagDelta != 0 {
		out = append(out, s.opt.Codec.Id())
	}
	out = appendUvarint(out, uint64(len(inWin)))
	if flags&flagDelta != 0 {
		out = appendUvarint(out, uint64(s.fetch.off))
		out = appendUvarint(out, uint64(len(srcWin)))
	}
	out = appendUvarint(out, uint64(len(payload)))
	out = appendUvarint(out, uint64(adler32.Checksum(inWin)))
	out = append(out, payload...)
	s.out = out
	s.outSet = true
	return SigOutput
}

// resemble is the cheap gate in front of the delta computation: windows
// sharing no sketch super-feature are encoded literally without paying
// for a doomed delta.
func (s *Stream) resemble(srcWin, inWin []byte) bool {
	a := sketch.SketchWindow(srcWin, s.opt.Pol, sketchWSize, sketchSfCount, sketchFCount)
	b := sketch.SketchWindow(inWin, s.opt.Pol, sketchWSize, sketchSfCount, sketchFCount)
	return sketch.Resemble(a, b)
}
