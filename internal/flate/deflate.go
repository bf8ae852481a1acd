// Copyright 2010 The Go Authors. All rights reserved.
// Copyright (c) 2015 Klaus Post
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flate

import (
	"fmt"
	"io"
)

const (
	NoCompression      = 0
	BestSpeed          = 1
	BestCompression    = 9
	DefaultCompression = -1

	logWindowSize  = 15
	windowSize     = 1 << logWindowSize
	windowMask     = windowSize - 1
	minMatchLength = 3   // The smallest match that the compressor looks for
	maxMatchLength = 258 // The longest match for the compressor
	minOffsetSize  = 1   // The shortest offset that makes any sense

	// The maximum number of tokens we put into a single flate block, just to
	// stop things from getting too large.
	maxFlateBlockTokens = 1 << 14
	maxStoreBlockSize   = 65535
	hashBits            = 17
	hashSize            = 1 << hashBits
	hashMask            = (1 << hashBits) - 1
	hashShift           = (hashBits + minMatchLength - 1) / minMatchLength
	maxHashOffset       = 1 << 24
)

type compressionLevel struct {
	good, lazy, nice, chain, level int
}

// Chain-walk tuning in the zlib tradition: try lazy matching only below
// "lazy", accept a match outright at "nice", and never follow more than
// "chain" links. findMatch quarters the chain when it is entered with a
// match of at least "good", but the lazy matcher always enters it with
// length 2, so "good" does not shorten the walk.
// Every level runs the lazy matcher; the specialized one-pass encoders
// that klauspost/compress substitutes below level 5, and its SSE4.2
// variants, are not carried here. Level 6 is the default, targeting
// zlib's level 6.
var levels = []compressionLevel{
	{}, // 0: the container frames uncompressed entries itself
	{4, 4, 8, 4, 1},
	{4, 5, 16, 8, 2},
	{4, 6, 32, 32, 3},
	{4, 4, 16, 16, 4},
	{8, 10, 32, 32, 5},
	{8, 16, 128, 128, 6},
	{8, 32, 128, 256, 7},
	{10, 16, 24, 64, 8},
	{32, 258, 258, 4096, 9},
}

type compressor struct {
	compressionLevel

	w *blockWriter

	// requesting flush
	sync bool

	// Input hash chains.
	// hashHead[hashValue] contains the largest inputIndex with the specified
	// hash value. If hashHead[hashValue] is within the current window, then
	// hashPrev[hashHead[hashValue] & windowMask] contains the previous index
	// with the same hash value.
	chainHead  int
	hashHead   []uint32
	hashPrev   []uint32
	hashOffset int

	// input window: unprocessed data is window[index:windowEnd]
	index         int
	window        []byte
	windowEnd     int
	blockStart    int  // window index where current tokens start
	byteAvailable bool // if true, still need to process window[index-1].

	// queued output tokens
	tokens []token

	// deflate state
	length         int
	offset         int
	hash           uint32
	maxInsertIndex int
	err            error
	ii             uint16 // position of last match, intended to overflow to reset.

	hashMatch [maxMatchLength + minMatchLength]uint32
}

// hash3 is the rolling hash over the three bytes at the start of b, each
// byte shifted in by hashShift so the oldest falls out of the mask.
func hash3(b []byte) uint32 {
	return (((uint32(b[0])<<hashShift + uint32(b[1])) << hashShift) + uint32(b[2])) & hashMask
}

// bulkHash3 computes the same rolling hash for every position of b with at
// least minMatchLength bytes of lookahead, writing one hash per position
// into dst.
func bulkHash3(b []byte, dst []uint32) {
	if len(b) < minMatchLength {
		return
	}
	h := uint32(b[0])<<hashShift + uint32(b[1])
	end := len(b) - minMatchLength + 1
	for i := 0; i < end; i++ {
		h = h<<hashShift + uint32(b[i+2])
		dst[i] = h & hashMask
	}
}

func (d *compressor) fillDeflate(b []byte) int {
	if d.index >= 2*windowSize-(minMatchLength+maxMatchLength) {
		// shift the window by windowSize
		copy(d.window, d.window[windowSize:2*windowSize])
		d.index -= windowSize
		d.windowEnd -= windowSize
		if d.blockStart >= windowSize {
			d.blockStart -= windowSize
		} else {
			// The stored-block window is no longer addressable.
			d.blockStart = 1 << 30
		}
		d.hashOffset += windowSize
		if d.hashOffset > maxHashOffset {
			delta := d.hashOffset - 1
			d.hashOffset -= delta
			d.chainHead -= delta
			for i, v := range d.hashPrev {
				if int(v) > delta {
					d.hashPrev[i] = uint32(int(v) - delta)
				} else {
					d.hashPrev[i] = 0
				}
			}
			for i, v := range d.hashHead {
				if int(v) > delta {
					d.hashHead[i] = uint32(int(v) - delta)
				} else {
					d.hashHead[i] = 0
				}
			}
		}
	}
	n := copy(d.window[d.windowEnd:], b)
	d.windowEnd += n
	return n
}

func (d *compressor) writeBlock(tokens []token, index int) error {
	if index > 0 {
		var window []byte
		if d.blockStart <= index {
			window = d.window[d.blockStart:index]
		}
		d.blockStart = index
		d.w.writeBlock(tokens, false, window)
		return d.w.err
	}
	return nil
}

func (d *compressor) writeStoredBlock(buf []byte) error {
	if d.w.writeStoredHeader(len(buf), false); d.w.err != nil {
		return d.w.err
	}
	d.w.writeBytes(buf)
	return d.w.err
}

// Try to find a match starting at index whose length is greater than prevLength.
// We only look at d.chain possibilities before giving up.
func (d *compressor) findMatch(pos int, prevHead int, prevLength int, lookahead int) (length, offset int, ok bool) {
	minMatchLook := maxMatchLength
	if lookahead < minMatchLook {
		minMatchLook = lookahead
	}

	win := d.window[0 : pos+minMatchLook]

	// We quit when we get a match that's at least nice long
	nice := len(win) - pos
	if d.nice < nice {
		nice = d.nice
	}

	// If we've got a match that's good enough, only look in 1/4 the chain.
	tries := d.chain
	length = prevLength
	if length >= d.good {
		tries >>= 2
	}

	wEnd := win[pos+length]
	wPos := win[pos:]
	minIndex := pos - windowSize

	for i := prevHead; tries > 0; tries-- {
		if wEnd == win[i+length] {
			n := matchLen(win[i:], wPos, minMatchLook)

			if n > length && (n > minMatchLength || pos-i <= 4096) {
				length = n
				offset = pos - i
				ok = true
				if n >= nice {
					// The match is good enough that we don't try to find a better one.
					break
				}
				wEnd = win[pos+n]
			}
		}
		if i == minIndex {
			// hashPrev[i & windowMask] has already been overwritten, so stop now.
			break
		}
		i = int(d.hashPrev[i&windowMask]) - d.hashOffset
		if i < minIndex || i < 0 {
			break
		}
	}
	return
}

// matchLen returns the number of matching bytes in a and b
// up to length 'max'. Both slices must be at least 'max'
// bytes in size.
func matchLen(a, b []byte, max int) int {
	a = a[:max]
	b = b[:len(a)]
	for i, av := range a {
		if b[i] != av {
			return i
		}
	}
	return max
}

func (d *compressor) initDeflate() {
	d.window = make([]byte, 2*windowSize)
	d.hashHead = make([]uint32, hashSize)
	d.hashPrev = make([]uint32, windowSize)
	d.hashOffset = 1
	d.tokens = make([]token, 0, maxFlateBlockTokens+1)
	d.length = minMatchLength - 1
	d.offset = 0
	d.byteAvailable = false
	d.index = 0
	d.hash = 0
	d.chainHead = -1
}

// bulkInsert hashes every position from start up to end (clamped to the
// insertable range) into the chains, the way klauspost's encoder fills in
// the positions a match skipped over.
func (d *compressor) bulkInsert(start, end int) {
	if end > d.maxInsertIndex {
		end = d.maxInsertIndex
	}
	if start > d.maxInsertIndex {
		start = d.maxInsertIndex
	}
	span := end + minMatchLength - 1
	if span > d.windowEnd {
		span = d.windowEnd
	}
	tocheck := d.window[start:span]
	n := len(tocheck) - minMatchLength + 1
	if n <= 0 {
		return
	}
	dst := d.hashMatch[:n]
	bulkHash3(tocheck, dst)
	var newH uint32
	for i, val := range dst {
		di := i + start
		newH = val
		// Our chain should point to the previous value.
		d.hashPrev[di&windowMask] = d.hashHead[newH]
		// Set the head of the hash chain to us.
		d.hashHead[newH] = uint32(di + d.hashOffset)
	}
	d.hash = newH
}

// deflateLazy is the lazy-matching encoder: each position's match is held
// back one byte in case the next position matches longer.
func (d *compressor) deflateLazy() {
	if d.windowEnd-d.index < minMatchLength+maxMatchLength && !d.sync {
		return
	}

	d.maxInsertIndex = d.windowEnd - (minMatchLength - 1)
	if d.index < d.maxInsertIndex {
		d.hash = hash3(d.window[d.index : d.index+minMatchLength])
	}

	for {
		lookahead := d.windowEnd - d.index
		if lookahead < minMatchLength+maxMatchLength {
			if !d.sync {
				return
			}
			if lookahead == 0 {
				// Flush current output block if any.
				if d.byteAvailable {
					// There is still one pending token that needs to be flushed
					d.tokens = append(d.tokens, literalToken(uint32(d.window[d.index-1])))
					d.byteAvailable = false
				}
				if len(d.tokens) > 0 {
					if d.err = d.writeBlock(d.tokens, d.index); d.err != nil {
						return
					}
					d.tokens = d.tokens[:0]
				}
				return
			}
		}
		if d.index < d.maxInsertIndex {
			// Update the hash
			d.hash = hash3(d.window[d.index : d.index+minMatchLength])
			ch := d.hashHead[d.hash]
			d.chainHead = int(ch)
			d.hashPrev[d.index&windowMask] = ch
			d.hashHead[d.hash] = uint32(d.index + d.hashOffset)
		}
		prevLength := d.length
		prevOffset := d.offset
		d.length = minMatchLength - 1
		d.offset = 0
		minIndex := d.index - windowSize
		if minIndex < 0 {
			minIndex = 0
		}

		if d.chainHead-d.hashOffset >= minIndex && lookahead > prevLength && prevLength < d.lazy {
			if newLength, newOffset, ok := d.findMatch(d.index, d.chainHead-d.hashOffset, minMatchLength-1, lookahead); ok {
				d.length = newLength
				d.offset = newOffset
			}
		}
		if prevLength >= minMatchLength && d.length <= prevLength {
			// There was a match at the previous step, and the current match is
			// not better. Output the previous match.
			d.tokens = append(d.tokens, matchToken(uint32(prevLength-3), uint32(prevOffset-minOffsetSize)))

			// Insert in the hash table all strings up to the end of the match.
			// index and index-1 are already inserted. If there is not enough
			// lookahead, the last two strings are not inserted into the hash
			// table.
			newIndex := d.index + prevLength - 1
			d.bulkInsert(d.index+1, newIndex)
			d.index = newIndex
			d.byteAvailable = false
			d.length = minMatchLength - 1
			if len(d.tokens) == maxFlateBlockTokens {
				// The block includes the current character
				if d.err = d.writeBlock(d.tokens, d.index); d.err != nil {
					return
				}
				d.tokens = d.tokens[:0]
			}
		} else {
			// Reset the no-match run if we got a match this time.
			if d.length >= minMatchLength {
				d.ii = 0
			}
			// We have a byte waiting. Emit it.
			if d.byteAvailable {
				d.ii++
				d.tokens = append(d.tokens, literalToken(uint32(d.window[d.index-1])))
				if len(d.tokens) == maxFlateBlockTokens {
					if d.err = d.writeBlock(d.tokens, d.index); d.err != nil {
						return
					}
					d.tokens = d.tokens[:0]
				}
				d.index++

				// After a long stretch without matches, emit batches of
				// literals without searching, covering ground faster on
				// incompressible input. The counter resets when it
				// overflows, so the search is retried now and then.
				if d.ii > 31 {
					for j := int(d.ii >> 5); j > 0; j-- {
						if d.index >= d.windowEnd-1 {
							break
						}
						d.tokens = append(d.tokens, literalToken(uint32(d.window[d.index-1])))
						if len(d.tokens) == maxFlateBlockTokens {
							if d.err = d.writeBlock(d.tokens, d.index); d.err != nil {
								return
							}
							d.tokens = d.tokens[:0]
						}
						d.index++
					}
					// Flush last byte
					d.tokens = append(d.tokens, literalToken(uint32(d.window[d.index-1])))
					d.byteAvailable = false
					if len(d.tokens) == maxFlateBlockTokens {
						if d.err = d.writeBlock(d.tokens, d.index); d.err != nil {
							return
						}
						d.tokens = d.tokens[:0]
					}
				}
			} else {
				d.index++
				d.byteAvailable = true
			}
		}
	}
}

func (d *compressor) write(b []byte) (n int, err error) {
	if d.err != nil {
		return 0, d.err
	}
	n = len(b)
	for len(b) > 0 {
		d.deflateLazy()
		b = b[d.fillDeflate(b):]
		if d.err != nil {
			return 0, d.err
		}
	}
	return n, d.err
}

func (d *compressor) close() error {
	if d.err != nil {
		return d.err
	}
	d.sync = true
	d.deflateLazy()
	if d.err != nil {
		return d.err
	}
	// The stream always ends with an empty stored block carrying the
	// final-block bit; it doubles as the whole stream for empty input.
	if d.w.writeStoredHeader(0, true); d.w.err != nil {
		return d.w.err
	}
	d.w.flush()
	return d.w.err
}

func (d *compressor) init(w io.Writer, level int) (err error) {
	d.w = newBlockWriter(w)

	if level == DefaultCompression {
		level = 6
	}
	if level < 1 || level > 9 {
		return fmt.Errorf("flate: invalid compression level %d: want 1-9", level)
	}
	d.compressionLevel = levels[level]
	d.initDeflate()
	return nil
}

func (d *compressor) reset(w io.Writer) {
	d.w.reset(w)
	d.sync = false
	d.err = nil
	d.chainHead = -1
	for i := range d.hashHead {
		d.hashHead[i] = 0
	}
	for i := range d.hashPrev {
		d.hashPrev[i] = 0
	}
	d.hashOffset = 1
	d.index, d.windowEnd = 0, 0
	d.blockStart, d.byteAvailable = 0, false
	d.tokens = d.tokens[:0]
	d.length = minMatchLength - 1
	d.offset = 0
	d.hash = 0
	d.ii = 0
	d.maxInsertIndex = 0
}

// NewWriter returns a new Writer compressing data at the given level.
// Following zlib, levels range from 1 (BestSpeed) to 9 (BestCompression);
// higher levels typically run slower but compress more.
// Level 0 (NoCompression) is not supported here: callers that want bytes
// passed through verbatim frame them as stored entries themselves.
func NewWriter(w io.Writer, level int) (*Writer, error) {
	var dw Writer
	if err := dw.d.init(w, level); err != nil {
		return nil, err
	}
	return &dw, nil
}

// A Writer takes data written to it and writes the compressed
// form of that data to an underlying writer (see NewWriter).
type Writer struct {
	d compressor
}

// Write writes data to w, which will eventually write the
// compressed form of data to its underlying writer.
func (w *Writer) Write(data []byte) (n int, err error) {
	return w.d.write(data)
}

// Close flushes and closes the writer.
func (w *Writer) Close() error {
	return w.d.close()
}

// Reset discards the writer's state and makes it equivalent to
// the result of NewWriter initialized with dst.
func (w *Writer) Reset(dst io.Writer) {
	w.d.reset(dst)
}
