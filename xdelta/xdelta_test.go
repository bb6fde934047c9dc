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
	"testing"

	"github.com/mdvan/fdelta"
	"github.com/n-peugnet/xdstream/delta"
)

const testBlksize = 64

// memSource serves blocks of an in-memory reference, the way a block
// provider would.
type memSource struct {
	data []byte
	src  *Source
}

func newMemSource(data []byte) *memSource {
	return &memSource{
		data: data,
		src:  &Source{Blksize: testBlksize, MaxWinsize: testBlksize * 64},
	}
}

func (m *memSource) serve() {
	blkno := m.src.GetBlkno
	start := blkno * testBlksize
	end := start + testBlksize
	if start > int64(len(m.data)) {
		start = int64(len(m.data))
	}
	if end > int64(len(m.data)) {
		end = int64(len(m.data))
	}
	blk := m.data[start:end]
	m.src.CurBlkno = blkno
	m.src.CurBlk = blk
	m.src.OnBlk = len(blk)
	m.src.EOFKnown = true
	if len(m.data) == 0 {
		m.src.MaxBlkno = 0
		m.src.OnLastBlk = 0
	} else {
		m.src.MaxBlkno = int64(len(m.data)-1) / testBlksize
		m.src.OnLastBlk = len(m.data) - int(m.src.MaxBlkno)*testBlksize
	}
}

// drive pumps input through one stream in chunkSize pieces and collects
// the produced output, stopping at the first terminal signal.
func drive(t *testing.T, s *Stream, step func() Signal, src *memSource, input []byte, chunkSize int) ([]byte, Signal) {
	t.Helper()
	if err := s.SetSource(src.src); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	flushed := false
	for {
		chunk := input
		if len(chunk) > chunkSize {
			chunk = chunk[:chunkSize]
		}
		input = input[len(chunk):]
		if len(chunk) == 0 {
			s.SetFlush()
			flushed = true
		}
		s.AvailInput(chunk)
		for {
			sig := step()
			switch sig {
			case SigInput:
				if flushed {
					return out.Bytes(), sig
				}
			case SigOutput:
				out.Write(s.Output())
				s.ConsumeOutput()
				continue
			case SigGetSrcBlk:
				src.serve()
				continue
			case SigGotHeader, SigWinStart, SigWinFinish:
				continue
			default:
				return out.Bytes(), sig
			}
			break
		}
	}
}

func newTestStream(t *testing.T, opt Options) *Stream {
	t.Helper()
	if opt.WinSize == 0 {
		opt.WinSize = 128
	}
	s, err := NewStream(opt)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func encode(t *testing.T, input, source []byte, opt Options) []byte {
	t.Helper()
	s := newTestStream(t, opt)
	out, sig := drive(t, s, s.EncodeInput, newMemSource(source), input, 32)
	if sig != SigInput {
		t.Fatalf("encode failed with %s: %s", sig, s.ErrMsg())
	}
	return out
}

func decode(t *testing.T, input, source []byte, opt Options) ([]byte, Signal, string) {
	t.Helper()
	s := newTestStream(t, opt)
	out, sig := drive(t, s, s.DecodeInput, newMemSource(source), input, 32)
	return out, sig, s.ErrMsg()
}

func testContent(l int) []byte {
	b := make([]byte, l)
	for i := range b {
		b[i] = byte(i>>6) ^ byte(3*i)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	source := testContent(1000)
	input := append([]byte("prefix "), source...)
	patch := encode(t, input, source, Options{})
	out, sig, msg := decode(t, patch, source, Options{})
	if sig != SigInput {
		t.Fatalf("decode failed with %s: %s", sig, msg)
	}
	if !bytes.Equal(out, input) {
		t.Fatalf("decoded %d bytes do not match the %d encoded ones", len(out), len(input))
	}
}

func TestRoundTripChunked(t *testing.T) {
	source := testContent(500)
	input := testContent(777)
	patch := encode(t, input, source, Options{})
	// Feeding the patch one byte at a time must not change the outcome.
	s := newTestStream(t, Options{})
	out, sig := drive(t, s, s.DecodeInput, newMemSource(source), patch, 1)
	if sig != SigInput {
		t.Fatalf("decode failed with %s: %s", sig, s.ErrMsg())
	}
	if !bytes.Equal(out, input) {
		t.Fatal("decoded bytes do not match the encoded ones")
	}
}

func TestEmptyInput(t *testing.T) {
	source := testContent(100)
	patch := encode(t, nil, source, Options{})
	if len(patch) == 0 {
		t.Fatal("even an empty input should produce a stream header")
	}
	out, sig, msg := decode(t, patch, source, Options{})
	if sig != SigInput {
		t.Fatalf("decode failed with %s: %s", sig, msg)
	}
	if len(out) != 0 {
		t.Fatal("an empty input should decode to zero bytes, actual:", len(out))
	}
}

func TestEmptyReference(t *testing.T) {
	input := testContent(300)
	patch := encode(t, input, nil, Options{})
	out, sig, msg := decode(t, patch, nil, Options{})
	if sig != SigInput {
		t.Fatalf("decode failed with %s: %s", sig, msg)
	}
	if !bytes.Equal(out, input) {
		t.Fatal("decoded bytes do not match the encoded ones")
	}
}

func TestOutputRepeatedUntilConsumed(t *testing.T) {
	s := newTestStream(t, Options{})
	if err := s.SetSource(newMemSource(nil).src); err != nil {
		t.Fatal(err)
	}
	s.AvailInput(nil)
	s.SetFlush()
	var sig Signal
	for sig = s.EncodeInput(); sig != SigOutput; sig = s.EncodeInput() {
		if sig.Terminal() {
			t.Fatalf("encode failed with %s: %s", sig, s.ErrMsg())
		}
	}
	first := append([]byte(nil), s.Output()...)
	if sig := s.EncodeInput(); sig != SigOutput {
		t.Fatal("stepping without consuming should re-expose the output, actual:", sig)
	}
	if !bytes.Equal(s.Output(), first) {
		t.Fatal("re-exposed output should be identical")
	}
	s.ConsumeOutput()
	if sig := s.EncodeInput(); sig == SigOutput {
		t.Fatal("consumed output should not be exposed again")
	}
}

func TestBadMagic(t *testing.T) {
	_, sig, _ := decode(t, []byte("definitely not a delta"), nil, Options{})
	if sig != SigInvalidInput {
		t.Fatal("expected INVALID_INPUT for a garbage stream, actual:", sig)
	}
}

func TestBadVersion(t *testing.T) {
	patch := encode(t, testContent(10), nil, Options{})
	patch[3] = 0x7f
	_, sig, _ := decode(t, patch, nil, Options{})
	if sig != SigUnimplemented {
		t.Fatal("expected UNIMPLEMENTED for an unknown version, actual:", sig)
	}
}

func TestUnknownWindowFlags(t *testing.T) {
	patch := encode(t, testContent(10), nil, Options{})
	patch[4] |= 0x80
	_, sig, _ := decode(t, patch, nil, Options{})
	if sig != SigUnimplemented {
		t.Fatal("expected UNIMPLEMENTED for unknown window flags, actual:", sig)
	}
}

func TestTruncatedStream(t *testing.T) {
	patch := encode(t, testContent(100), nil, Options{})
	_, sig, _ := decode(t, patch[:len(patch)-3], nil, Options{})
	if sig != SigInvalidInput {
		t.Fatal("expected INVALID_INPUT for a truncated stream, actual:", sig)
	}
}

func TestChecksumMismatch(t *testing.T) {
	patch := encode(t, testContent(100), nil, Options{})
	patch[len(patch)-1] ^= 0xff
	_, sig, _ := decode(t, patch, nil, Options{})
	if sig != SigInvalid {
		t.Fatal("expected INVALID for a corrupt window, actual:", sig)
	}
}

func TestNoSecond(t *testing.T) {
	// Compressible input so that the encoder reaches for the secondary
	// compressor.
	input := bytes.Repeat([]byte("the same thing over and over "), 20)
	patch := encode(t, input, nil, Options{Secondary: true})
	_, sig, _ := decode(t, patch, nil, Options{Secondary: false})
	if sig != SigNoSecond {
		t.Fatal("expected NOSECOND without the secondary compressor, actual:", sig)
	}
}

// deltaFrame builds one valid delta window frame by hand.
func deltaFrame(target []byte, source []byte, srcOff int64, srcLen int) []byte {
	payload := fdelta.Create(source[srcOff:srcOff+int64(srcLen)], target)
	frame := []byte{flagDelta, delta.IdFdelta}
	frame = appendUvarint(frame, uint64(len(target)))
	frame = appendUvarint(frame, uint64(srcOff))
	frame = appendUvarint(frame, uint64(srcLen))
	frame = appendUvarint(frame, uint64(len(payload)))
	frame = appendUvarint(frame, uint64(adler32.Checksum(target)))
	return append(frame, payload...)
}

func TestTooFarBack(t *testing.T) {
	source := testContent(256)
	patch := append([]byte(nil), magic[:]...)
	patch = append(patch, deltaFrame([]byte("first"), source, 128, 64)...)
	patch = append(patch, deltaFrame([]byte("second"), source, 0, 64)...)
	_, sig, _ := decode(t, patch, source, Options{})
	if sig != SigTooFarBack {
		t.Fatal("expected TOOFARBACK for a backward source window, actual:", sig)
	}
}

func TestReferenceTooShort(t *testing.T) {
	source := testContent(256)
	patch := append([]byte(nil), magic[:]...)
	patch = append(patch, deltaFrame([]byte("first"), source, 128, 64)...)
	short := source[:64]
	_, sig, _ := decode(t, patch, short, Options{})
	if sig != SigInvalid {
		t.Fatal("expected INVALID when the reference ends too early, actual:", sig)
	}
}

func TestModeConflict(t *testing.T) {
	s := newTestStream(t, Options{})
	s.AvailInput(nil)
	s.EncodeInput()
	if sig := s.DecodeInput(); sig != SigInternal {
		t.Fatal("expected INTERNAL when mixing directions, actual:", sig)
	}
}

func TestCloseTwice(t *testing.T) {
	s, err := NewStream(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err == nil {
		t.Fatal("closing twice should fail")
	}
}

func TestStepAfterClose(t *testing.T) {
	s, err := NewStream(Options{})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()
	if sig := s.EncodeInput(); sig != SigInternal {
		t.Fatal("stepping a closed stream should signal INTERNAL, actual:", sig)
	}
}
