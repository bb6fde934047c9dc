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

// Package xdelta implements a windowed binary-delta engine as a
// signal-driven state machine.
//
// A Stream consumes input chunks handed to it with AvailInput and reacts
// to each EncodeInput or DecodeInput step with a Signal telling its driver
// what it needs next: more input, a write of produced output, or a block
// of the reference stream. The step functions are synchronous and perform
// no I/O themselves; all reads and writes happen between steps, in the
// driver. Window payloads are produced by a delta.Codec, the engine only
// frames them.
package xdelta

import (
	"errors"
	"fmt"

	"github.com/chmduquesne/rollinghash/rabinkarp64"
	"github.com/n-peugnet/xdstream/delta"
	"github.com/n-peugnet/xdstream/logger"
)

// A Signal is the outcome of one engine step.
type Signal int

const (
	// SigInput means the current input chunk is consumed: hand the next
	// one to AvailInput, or stop if SetFlush was called.
	SigInput Signal = iota
	// SigOutput means produced bytes are exposed by Output. They must be
	// fully handled and acknowledged with ConsumeOutput before stepping
	// again, otherwise the same bytes are exposed again.
	SigOutput
	// SigGetSrcBlk means the engine needs the reference block Source.GetBlkno.
	SigGetSrcBlk
	// SigGotHeader, SigWinStart and SigWinFinish are informational.
	SigGotHeader
	SigWinStart
	SigWinFinish
	// Terminal signals. None of them is recoverable: the whole operation
	// must be aborted.
	SigTooFarBack
	SigInternal
	SigInvalid
	SigInvalidInput
	SigNoSecond
	SigUnimplemented
)

var signalNames = map[Signal]string{
	SigInput:         "INPUT",
	SigOutput:        "OUTPUT",
	SigGetSrcBlk:     "GETSRCBLK",
	SigGotHeader:     "GOTHEADER",
	SigWinStart:      "WINSTART",
	SigWinFinish:     "WINFINISH",
	SigTooFarBack:    "TOOFARBACK",
	SigInternal:      "INTERNAL",
	SigInvalid:       "INVALID",
	SigInvalidInput:  "INVALID_INPUT",
	SigNoSecond:      "NOSECOND",
	SigUnimplemented: "UNIMPLEMENTED",
}

func (s Signal) String() string {
	if n, ok := signalNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

// Terminal reports whether the signal aborts the whole operation.
func (s Signal) Terminal() bool {
	return s >= SigTooFarBack
}

// A Source describes the reference stream as a set of fixed-size blocks.
// The engine sets GetBlkno before raising SigGetSrcBlk; the block provider
// fills in the remaining mutable fields before the next step. CurBlk
// points into the provider's own buffer and is only read until that step
// returns, never retained.
type Source struct {
	Blksize    int // bytes per block
	MaxWinsize int // provider's total window budget

	GetBlkno int64 // block requested by the engine

	CurBlkno  int64  // block currently served
	CurBlk    []byte // served block bytes
	OnBlk     int    // length of CurBlk
	EOFKnown  bool   // reference length is known
	MaxBlkno  int64  // last valid block, meaningful once EOFKnown
	OnLastBlk int    // length of the last block, meaningful once EOFKnown
}

// Options configures a Stream.
type Options struct {
	WinSize   int             // bytes of input encoded per window
	Codec     delta.Codec     // delta algorithm for window payloads
	Secondary bool            // zlib-compress window payloads when it pays off
	Pol       rabinkarp64.Pol // polynomial for resemblance sketches
}

// DefaultWinSize is the window size used when Options leaves it zero.
const DefaultWinSize = 32 << 10

var defaultPol rabinkarp64.Pol

func init() {
	p, err := rabinkarp64.RandomPolynomial(1)
	if err != nil {
		logger.Panic(err)
	}
	defaultPol = p
}

// DefaultOptions returns the options used by the convenience entry points.
func DefaultOptions() Options {
	return Options{
		WinSize:   DefaultWinSize,
		Codec:     delta.Fdelta{},
		Secondary: true,
		Pol:       defaultPol,
	}
}

// Stream encoding modes.
const (
	modeNone = iota
	modeEncode
	modeDecode
)

// A Stream is one encode or decode session. It is not safe for concurrent
// use and must be Closed exactly once.
type Stream struct {
	opt    Options
	src    *Source
	mode   int
	in     []byte // caller-owned current input chunk
	flush  bool   // one-shot: no further input chunks will follow
	out    []byte // produced bytes, valid until ConsumeOutput
	outSet bool

	msg     string
	failed  bool
	failSig Signal
	closed  bool

	srcTotal int64 // reference length, -1 while unknown
	fetch    srcFetch
	enc      encoder
	dec      decoder
}

// NewStream configures a new session. Zero option fields get defaults.
func NewStream(opt Options) (*Stream, error) {
	if opt.WinSize == 0 {
		opt.WinSize = DefaultWinSize
	}
	if opt.WinSize < 0 {
		return nil, fmt.Errorf("invalid window size: %d", opt.WinSize)
	}
	if opt.Codec == nil {
		opt.Codec = delta.Fdelta{}
	}
	if _, err := delta.ById(opt.Codec.Id()); err != nil {
		return nil, err
	}
	if opt.Pol == 0 {
		opt.Pol = defaultPol
	}
	return &Stream{opt: opt, srcTotal: -1}, nil
}

// SetSource binds the descriptor of the reference stream. It must be
// called before the first step.
func (s *Stream) SetSource(src *Source) error {
	if s.mode != modeNone {
		return errors.New("source must be bound before the first step")
	}
	if src.Blksize <= 0 || src.MaxWinsize < src.Blksize {
		return fmt.Errorf("invalid source geometry: blksize=%d max_winsize=%d",
			src.Blksize, src.MaxWinsize)
	}
	s.src = src
	return nil
}

// AvailInput hands the next input chunk to the engine. The buffer is
// caller-owned: it must not be reused until the engine asks for the next
// chunk with SigInput.
func (s *Stream) AvailInput(p []byte) {
	s.in = p
}

// SetFlush marks that no further input chunks will follow the current one.
func (s *Stream) SetFlush() {
	s.flush = true
}

// Output exposes the bytes produced by the last SigOutput step.
func (s *Stream) Output() []byte {
	return s.out
}

// ConsumeOutput acknowledges that the exposed output has been fully
// handled.
func (s *Stream) ConsumeOutput() {
	s.out = s.out[:0]
	s.outSet = false
}

// ErrMsg returns the diagnostic message of the last terminal signal.
func (s *Stream) ErrMsg() string {
	return s.msg
}

// Close releases the session. It must be called exactly once.
func (s *Stream) Close() error {
	if s.closed {
		return errors.New("stream already closed")
	}
	s.closed = true
	s.in = nil
	s.out = nil
	s.fetch.buf = nil
	s.enc.win = nil
	s.dec.payload = nil
	return nil
}

// abort latches a terminal signal: every subsequent step returns it.
func (s *Stream) abort(sig Signal, format string, v ...interface{}) Signal {
	s.failed = true
	s.failSig = sig
	s.msg = fmt.Sprintf(format, v...)
	return sig
}

// begin checks the session state at the start of a step. The returned
// signal is only meaningful when stop is true.
func (s *Stream) begin(mode int) (sig Signal, stop bool) {
	if s.closed {
		return s.abort(SigInternal, "stream is closed"), true
	}
	if s.failed {
		return s.failSig, true
	}
	if s.mode == modeNone {
		s.mode = mode
	} else if s.mode != mode {
		return s.abort(SigInternal, "stream already stepped in the other direction"), true
	}
	if s.outSet {
		// Previous output was not acknowledged: expose it again.
		return SigOutput, true
	}
	return 0, false
}

// srcFetch assembles the source window [off, off+want) block by block.
type srcFetch struct {
	off     int64
	want    int
	buf     []byte
	pending bool
}

func (s *Stream) resetFetch(off int64, want int) {
	s.fetch.off = off
	s.fetch.want = want
	s.fetch.buf = s.fetch.buf[:0]
	s.fetch.pending = false
}

// stepFetch advances the source window assembly. It returns done once the
// window is complete or the reference is exhausted; otherwise the signal
// asks the driver for one more block. Served block bytes are copied out
// immediately so that CurBlk is never read after this step.
func (s *Stream) stepFetch() (sig Signal, done bool) {
	f := &s.fetch
	if s.src == nil {
		return SigInput, true
	}
	if f.pending {
		f.pending = false
		if s.src.CurBlkno != s.src.GetBlkno {
			return s.abort(SigInternal, "block provider served block %d instead of %d",
				s.src.CurBlkno, s.src.GetBlkno), false
		}
		if s.src.EOFKnown {
			s.srcTotal = s.src.MaxBlkno*int64(s.src.Blksize) + int64(s.src.OnLastBlk)
		}
		pos := f.off + int64(len(f.buf))
		blkStart := s.src.CurBlkno * int64(s.src.Blksize)
		rel := pos - blkStart
		if rel < 0 {
			return s.abort(SigInternal, "served block %d is past the wanted offset %d",
				s.src.CurBlkno, pos), false
		}
		if rel >= int64(s.src.OnBlk) {
			// The wanted byte is past the end of the reference.
			return SigInput, true
		}
		take := int64(s.src.OnBlk) - rel
		if left := int64(f.want - len(f.buf)); take > left {
			take = left
		}
		f.buf = append(f.buf, s.src.CurBlk[rel:rel+take]...)
		if s.src.OnBlk < s.src.Blksize {
			// A short block is always the last one.
			return SigInput, true
		}
	}
	if len(f.buf) >= f.want {
		return SigInput, true
	}
	if s.srcTotal >= 0 && f.off+int64(len(f.buf)) >= s.srcTotal {
		return SigInput, true
	}
	s.src.GetBlkno = (f.off + int64(len(f.buf))) / int64(s.src.Blksize)
	f.pending = true
	return SigGetSrcBlk, false
}
