// Package cache presents a sequential reference stream as a set of
// fixed-size, randomly-addressable blocks over a bounded window of memory.
package cache

import (
	"fmt"
	"io"

	"github.com/n-peugnet/xdstream/xdelta"
)

// BlockCount is the fixed number of blocks held by a window.
const BlockCount = 64

// A WindowCache reads a reference stream sequentially, once, and keeps the
// most recent BlockCount blocks in a circular arena so that a consumer can
// address them by block number. The window only moves forward: blocks are
// fetched the first time they are needed and never re-read after eviction,
// so block requests must come in non-decreasing order.
type WindowCache struct {
	src         io.Reader
	buf         []byte
	blksize     int
	readLen     int64 // bytes consumed from src so far
	eofKnown    bool
	blockOffset int64 // oldest block still in the window
}

// NewWindowCache builds a window over the reference stream with a total
// byte budget of maxWinsize. It performs the initial window-filling read,
// which may already discover the end of the stream. A read failure fails
// the construction.
func NewWindowCache(src io.Reader, maxWinsize int) (*WindowCache, error) {
	blksize := maxWinsize / BlockCount
	if blksize <= 0 {
		return nil, fmt.Errorf("window budget too small: %d bytes for %d blocks",
			maxWinsize, BlockCount)
	}
	c := &WindowCache{
		src:     src,
		buf:     make([]byte, blksize*BlockCount),
		blksize: blksize,
	}
	n, err := readFull(src, c.buf)
	if err != nil {
		return nil, fmt.Errorf("initial reference read: %s", err)
	}
	c.readLen = int64(n)
	c.eofKnown = n < len(c.buf)
	return c, nil
}

// Blksize returns the derived size of one block.
func (c *WindowCache) Blksize() int {
	return c.blksize
}

// ReadLen returns the number of reference bytes consumed so far.
func (c *WindowCache) ReadLen() int64 {
	return c.readLen
}

// prepare advances the window until it covers block idx or the stream
// ends. Advancing recycles the oldest block's slot, one block at a time.
func (c *WindowCache) prepare(idx int64) error {
	for !c.eofKnown && idx >= c.blockOffset+BlockCount {
		slot := int(c.blockOffset%BlockCount) * c.blksize
		n, err := readFull(c.src, c.buf[slot:slot+c.blksize])
		if err != nil {
			return fmt.Errorf("reference read at block %d: %s", c.blockOffset+BlockCount, err)
		}
		c.readLen += int64(n)
		c.blockOffset++
		if n < c.blksize {
			c.eofKnown = true
		}
	}
	return nil
}

// GetBlk serves the block requested in src.GetBlkno, filling in the
// descriptor's served-block fields. The served CurBlk slice points into
// the arena and stays valid until the next GetBlk call. Requesting a
// block below the window's lower bound is a contract violation by the
// consumer and fails loudly rather than being clamped.
func (c *WindowCache) GetBlk(src *xdelta.Source) error {
	blkno := src.GetBlkno
	if blkno < c.blockOffset {
		return fmt.Errorf("block %d requested but the window starts at block %d",
			blkno, c.blockOffset)
	}
	if err := c.prepare(blkno); err != nil {
		return err
	}
	start := blkno * int64(c.blksize)
	n := 0
	if start < c.readLen {
		n = c.blksize
		if left := c.readLen - start; int64(n) > left {
			n = int(left)
		}
	}
	slot := int(blkno%BlockCount) * c.blksize
	src.CurBlkno = blkno
	src.CurBlk = c.buf[slot : slot+n]
	src.OnBlk = n
	src.EOFKnown = c.eofKnown
	if c.eofKnown {
		if c.readLen == 0 {
			src.MaxBlkno = 0
			src.OnLastBlk = 0
		} else {
			src.MaxBlkno = (c.readLen - 1) / int64(c.blksize)
			src.OnLastBlk = int(c.readLen - src.MaxBlkno*int64(c.blksize))
		}
	}
	return nil
}

// readFull reads len(p) bytes unless the stream ends first. Unlike
// io.ReadFull it reports a clean short count at end of stream.
func readFull(r io.Reader, p []byte) (int, error) {
	n, err := io.ReadFull(r, p)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return n, err
}
