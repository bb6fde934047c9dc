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

package delta

import (
	"fmt"
	"io"

	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
	"github.com/kr/binarydist"
	"github.com/mdvan/fdelta"
)

type Differ interface {
	Diff(source io.Reader, target io.Reader, patch io.Writer) error
}

type Patcher interface {
	Patch(source io.Reader, target io.Writer, patch io.Reader) error
}

// Codec is a symmetric delta algorithm identified by a single byte, so
// that an encoded stream can record which algorithm produced its windows.
type Codec interface {
	Differ
	Patcher
	Id() byte
}

// Codec identifier bytes, as written in encoded streams.
const (
	IdFdelta     byte = 0
	IdBsdiff     byte = 1
	IdBinarydist byte = 2
)

var codecs = map[byte]Codec{}

var codecNames = map[string]byte{
	"fdelta":     IdFdelta,
	"bsdiff":     IdBsdiff,
	"binarydist": IdBinarydist,
}

func register(c Codec) {
	codecs[c.Id()] = c
}

func init() {
	register(Fdelta{})
	register(Bsdiff{})
	register(Binarydist{})
}

// ById returns the codec registered for the given identifier byte.
func ById(id byte) (Codec, error) {
	c, ok := codecs[id]
	if !ok {
		return nil, fmt.Errorf("unknown delta codec id: %d", id)
	}
	return c, nil
}

// ByName returns the codec registered under the given name.
func ByName(name string) (Codec, error) {
	id, ok := codecNames[name]
	if !ok {
		return nil, fmt.Errorf("unknown delta codec name: %q", name)
	}
	return ById(id)
}

type Bsdiff struct{}

func (Bsdiff) Id() byte {
	return IdBsdiff
}

func (Bsdiff) Diff(source io.Reader, target io.Reader, patch io.Writer) error {
	return bsdiff.Reader(source, target, patch)
}

func (Bsdiff) Patch(source io.Reader, target io.Writer, patch io.Reader) error {
	return bspatch.Reader(source, target, patch)
}

type Fdelta struct{}

func (Fdelta) Id() byte {
	return IdFdelta
}

func (Fdelta) Diff(source io.Reader, target io.Reader, patch io.Writer) error {
	sourceBuf, err := io.ReadAll(source)
	if err != nil {
		return err
	}
	targetBuf, err := io.ReadAll(target)
	if err != nil {
		return err
	}
	_, err = patch.Write(fdelta.Create(sourceBuf, targetBuf))
	return err
}

func (Fdelta) Patch(source io.Reader, target io.Writer, patch io.Reader) error {
	sourceBuf, err := io.ReadAll(source)
	if err != nil {
		return fmt.Errorf("source read all: %s", err)
	}
	patchBuf, err := io.ReadAll(patch)
	if err != nil {
		return fmt.Errorf("patch read all: %s", err)
	}
	targetBuf, err := fdelta.Apply(sourceBuf, patchBuf)
	if err != nil {
		return fmt.Errorf("apply patch: %s", err)
	}
	_, err = target.Write(targetBuf)
	return err
}

type Binarydist struct{}

func (Binarydist) Id() byte {
	return IdBinarydist
}

func (Binarydist) Diff(source io.Reader, target io.Reader, patch io.Writer) error {
	return binarydist.Diff(source, target, patch)
}

func (Binarydist) Patch(source io.Reader, target io.Writer, patch io.Reader) error {
	return binarydist.Patch(source, target, patch)
}
