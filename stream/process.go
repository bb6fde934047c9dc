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

package stream

import (
	"fmt"
	"io"

	"github.com/n-peugnet/xdstream/cache"
	"github.com/n-peugnet/xdstream/logger"
	"github.com/n-peugnet/xdstream/utils"
	"github.com/n-peugnet/xdstream/xdelta"
)

// run mediates one whole operation between the input reader, the engine,
// the reference block window and the output writer. The engine's step
// function never blocks: every read and write happens here, between
// steps.
func run(o Options, step func(*xdelta.Stream) xdelta.Signal, input io.Reader, source io.Reader, output io.Writer) error {
	o, err := o.complete()
	if err != nil {
		return err
	}
	s, err := xdelta.NewStream(xdelta.Options{
		WinSize:   o.WinSize,
		Codec:     o.Codec,
		Secondary: o.Secondary,
	})
	if err != nil {
		return fmt.Errorf("configure stream: %s", err)
	}
	defer s.Close()

	blocks, err := cache.NewWindowCache(source, o.MaxWinSize)
	if err != nil {
		return err
	}
	src := &xdelta.Source{
		Blksize:    blocks.Blksize(),
		MaxWinsize: o.MaxWinSize,
	}
	if err := s.SetSource(src); err != nil {
		return fmt.Errorf("bind source: %s", err)
	}

	inBuf := make([]byte, o.WinSize)
	flushed := false
	for {
		n := 0
		if !flushed {
			var err error
			n, err = readChunk(input, inBuf)
			if err != nil {
				return fmt.Errorf("input read: %s", err)
			}
			if n == 0 {
				// The input is exhausted: this is the final cycle.
				s.SetFlush()
				flushed = true
			}
		}
		s.AvailInput(inBuf[:n])

		for {
			sig := step(s)
			switch sig {
			case xdelta.SigInput:
				if flushed {
					// The final cycle has been fully drained.
					return nil
				}
			case xdelta.SigOutput:
				if err := utils.WriteAll(output, s.Output()); err != nil {
					return fmt.Errorf("output write: %s", err)
				}
				s.ConsumeOutput()
				continue
			case xdelta.SigGetSrcBlk:
				if err := blocks.GetBlk(src); err != nil {
					return fmt.Errorf("source block: %s", err)
				}
				continue
			case xdelta.SigGotHeader:
				logger.Debug("header parsed")
				continue
			case xdelta.SigWinStart:
				logger.Debug("window start")
				continue
			case xdelta.SigWinFinish:
				logger.Debug("window finish")
				continue
			default:
				if msg := s.ErrMsg(); msg != "" {
					return fmt.Errorf("engine signaled %s: %s", sig, msg)
				}
				return fmt.Errorf("engine signaled %s", sig)
			}
			break
		}
	}
}

// readChunk reads up to one chunk from r. A zero count means the stream
// is exhausted.
func readChunk(r io.Reader, p []byte) (int, error) {
	for {
		n, err := r.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
	}
}
