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

// Package stream drives whole encode and decode operations between an
// input stream, a reference stream and an output sink, without ever
// materializing any of the three in memory.
//
// The reference stream is exposed to the engine through a bounded window
// of blocks (package cache) and is read sequentially, once, only as far
// as the engine needs it.
package stream

import (
	"bytes"
	"fmt"
	"io"

	"github.com/n-peugnet/xdstream/delta"
	"github.com/n-peugnet/xdstream/xdelta"
)

// Options configures one streaming operation.
type Options struct {
	WinSize    int         // bytes of input processed per engine window
	MaxWinSize int         // byte budget of the reference block window
	Codec      delta.Codec // delta algorithm for window payloads
	Secondary  bool        // zlib-compress window payloads when it pays off
}

// DefaultMaxWinSize is the reference window budget used when Options
// leaves it zero.
const DefaultMaxWinSize = 1 << 20

// DefaultOptions returns the options used by Encode and Decode.
func DefaultOptions() Options {
	return Options{
		WinSize:    xdelta.DefaultWinSize,
		MaxWinSize: DefaultMaxWinSize,
		Codec:      delta.Fdelta{},
		Secondary:  true,
	}
}

func (o Options) complete() (Options, error) {
	if o.WinSize == 0 {
		o.WinSize = xdelta.DefaultWinSize
	}
	if o.MaxWinSize == 0 {
		o.MaxWinSize = DefaultMaxWinSize
	}
	if o.MaxWinSize < o.WinSize {
		// An engine window spanning more blocks than the reference
		// window holds would force re-reads of evicted blocks.
		return o, fmt.Errorf("reference window budget %d is smaller than the engine window %d",
			o.MaxWinSize, o.WinSize)
	}
	return o, nil
}

// Encode delta-encodes input against source and writes the result to
// output.
func Encode(input io.Reader, source io.Reader, output io.Writer) error {
	return EncodeOptions(DefaultOptions(), input, source, output)
}

// Decode reconstructs the bytes that were encoded against source and
// writes them to output.
func Decode(input io.Reader, source io.Reader, output io.Writer) error {
	return DecodeOptions(DefaultOptions(), input, source, output)
}

// EncodeOptions is Encode with explicit options.
func EncodeOptions(o Options, input io.Reader, source io.Reader, output io.Writer) error {
	return run(o, encodeStep, input, source, output)
}

// DecodeOptions is Decode with explicit options.
func DecodeOptions(o Options, input io.Reader, source io.Reader, output io.Writer) error {
	return run(o, decodeStep, input, source, output)
}

func encodeStep(s *xdelta.Stream) xdelta.Signal { return s.EncodeInput() }
func decodeStep(s *xdelta.Stream) xdelta.Signal { return s.DecodeInput() }

// EncodeBytes is the in-memory convenience form of Encode.
func EncodeBytes(input []byte, source []byte) ([]byte, error) {
	var out bytes.Buffer
	err := Encode(bytes.NewReader(input), bytes.NewReader(source), &out)
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecodeBytes is the in-memory convenience form of Decode.
func DecodeBytes(input []byte, source []byte) ([]byte, error) {
	var out bytes.Buffer
	err := Decode(bytes.NewReader(input), bytes.NewReader(source), &out)
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
