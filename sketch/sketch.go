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

// Package sketch computes resemblance sketches of byte windows.
//
// A sketch is a short list of super-features. Two windows that share at
// least one super-feature are likely to contain long common regions, which
// makes a delta encoding of one against the other worthwhile.
package sketch

import (
	"encoding/binary"

	"github.com/chmduquesne/rollinghash/rabinkarp64"
)

type Sketch []uint64

const fBytes = 8

// SketchWindow produces a sketch for a window based on wSize: the rolling
// hash window size, sfCount: the number of super-features, and fCount: the
// number of features per super-feature. Windows too small to carve
// sfCount*fCount features out of yield a nil sketch.
func SketchWindow(window []byte, pol rabinkarp64.Pol, wSize int, sfCount int, fCount int) Sketch {
	fSize := FeatureSize(len(window), sfCount, fCount)
	if fSize < wSize {
		return nil
	}
	var superfeatures Sketch
	features := make([]uint64, 0, fCount*sfCount)
	sfBuff := make([]byte, fBytes*fCount)
	for f := 0; f < sfCount*fCount; f++ {
		features = append(features, calcFeature(pol, window[f*fSize:(f+1)*fSize], wSize))
	}
	hasher := rabinkarp64.NewFromPol(pol)
	for sf := 0; sf < len(features)/fCount; sf++ {
		for i := 0; i < fCount; i++ {
			binary.LittleEndian.PutUint64(sfBuff[i*fBytes:(i+1)*fBytes], features[i+sf*fCount])
		}
		hasher.Reset()
		hasher.Write(sfBuff)
		superfeatures = append(superfeatures, hasher.Sum64())
	}
	return superfeatures
}

// calcFeature computes the maximum of the rolling hash over every wSize
// window of the feature region.
func calcFeature(p rabinkarp64.Pol, region []byte, wSize int) uint64 {
	hasher := rabinkarp64.NewFromPol(p)
	hasher.Write(region[:wSize])
	max := hasher.Sum64()
	for w := wSize; w < len(region); w++ {
		hasher.Roll(region[w])
		if h := hasher.Sum64(); h > max {
			max = h
		}
	}
	return max
}

// Resemble returns true when the two sketches share at least one
// super-feature. Either sketch being nil means resemblance is unknown, in
// which case it returns true so that callers do not skip a delta that
// could still be worthwhile.
func Resemble(a Sketch, b Sketch) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for _, sa := range a {
		for _, sb := range b {
			if sa == sb {
				return true
			}
		}
	}
	return false
}

func FeatureSize(windowSize int, sfCount int, fCount int) int {
	return windowSize / (sfCount * fCount)
}
