// Package flate implements the DEFLATE compressed data format, described
// in RFC 1951. It backs the archive container's Deflate method; the
// container frames each entry's compressed bytes and drives the codec
// with whatever buffer sizes the caller supplies.
package flate

import (
	"bufio"
	"io"
	"strconv"
)

// A CorruptInputError reports the presence of corrupt input at a given offset.
type CorruptInputError int64

func (e CorruptInputError) Error() string {
	return "flate: corrupt input before offset " + strconv.FormatInt(int64(e), 10)
}

// An InternalError reports an error in the flate code itself.
type InternalError string

func (e InternalError) Error() string { return "flate: internal error: " + string(e) }

// A ReadError reports an error encountered while reading input.
type ReadError struct {
	Offset int64 // byte offset where error occurred
	Err    error // error returned by underlying Read
}

func (e *ReadError) Error() string {
	return "flate: read error at offset " + strconv.FormatInt(e.Offset, 10) + ": " + e.Err.Error()
}

func (e *ReadError) Unwrap() error { return e.Err }

// The read interface the decoder wants. A plain io.Reader is wrapped in a
// bufio.Reader, which may pull input beyond the compressed stream; callers
// that frame the stream themselves supply the byte reader.
type Reader interface {
	io.Reader
	io.ByteReader
}

const (
	windowBytes = 1 << 15 // history the format lets back-references reach

	maxLitCodes     = 286 // literal/length alphabet size
	maxDistCodes    = 32  // a dynamic header may declare up to 32 distance codes
	realDistCodes   = 30  // of which only 30 exist; 30 and 31 never decode
	codeLengthCodes = 19  // the meta-alphabet encoding the code widths
)

// The decoder is a resumable machine with one explicit state per place it
// can be suspended waiting for output space. Input shortage needs no
// state of its own: bits are pulled through the accumulator on demand and
// a short source surfaces as an error from there.
type inflateState int

const (
	stateBlockHeader inflateState = iota // at a block boundary
	stateStoredCopy                      // copying a stored block's bytes
	stateSymbols                         // inside a compressed block
	stateBackCopy                        // resolving a back-reference
	stateDone                            // final block fully decoded
)

type inflater struct {
	src     Reader
	inCount int64 // input bytes consumed, for error offsets

	// Bit accumulator, low bits first as the format packs them.
	bitbuf uint32
	bitcnt uint

	state inflateState
	final bool // the current block carries the last-block bit
	err   error

	// Trees for the block being decoded; either the fixed pair or the
	// two built from the last dynamic header.
	curLit, curDist *prefixDecoder
	litTree         prefixDecoder
	distTree        prefixDecoder
	widths          [maxLitCodes + maxDistCodes]int

	// Sliding window. wpos is the write cursor, wmark the portion already
	// handed to the caller, wfull whether the window has wrapped at least
	// once (before that, a distance past wpos is corrupt).
	win   [windowBytes]byte
	wpos  int
	wmark int
	wfull bool

	// In-flight work for the suspended states.
	copyLen    int
	copyDist   int
	storedLeft int

	// Decoded bytes not yet taken by the caller.
	pending []byte
}

// NewReader returns a ReadCloser decompressing r. If r is not also an
// io.ByteReader, the decoder buffers it and may read further than the
// compressed stream itself.
// It is the caller's responsibility to call Close when finished reading.
func NewReader(r io.Reader) io.ReadCloser {
	z := &inflater{state: stateBlockHeader}
	if br, ok := r.(Reader); ok {
		z.src = br
	} else {
		z.src = bufio.NewReader(r)
	}
	return z
}

func (z *inflater) Read(p []byte) (int, error) {
	for {
		if len(z.pending) > 0 {
			n := copy(p, z.pending)
			z.pending = z.pending[n:]
			return n, nil
		}
		if z.err != nil {
			return 0, z.err
		}
		z.step()
	}
}

func (z *inflater) Close() error {
	if z.err == io.EOF {
		return nil
	}
	return z.err
}

// step advances the machine by one state's worth of work. Every state
// either produces pending output, changes state, or sets err.
func (z *inflater) step() {
	switch z.state {
	case stateBlockHeader:
		z.blockHeader()
	case stateStoredCopy:
		z.storedCopy()
	case stateSymbols:
		z.symbols()
	case stateBackCopy:
		if z.copyStep() {
			z.state = stateSymbols
		}
	case stateDone:
		if z.wmark != z.wpos {
			z.flush(stateDone)
			return
		}
		z.err = io.EOF
	default:
		z.err = InternalError("bad decoder state")
	}
}

// flush hands the window bytes decoded since the last flush to the caller
// and records which state continues the work afterwards.
func (z *inflater) flush(next inflateState) {
	z.pending = z.win[z.wmark:z.wpos]
	z.wmark = z.wpos
	if z.wpos == len(z.win) {
		z.wpos = 0
		z.wmark = 0
		z.wfull = true
	}
	z.state = next
}

// --- bit input ---

func (z *inflater) moreBits() error {
	c, err := z.src.ReadByte()
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return err
	}
	z.inCount++
	z.bitbuf |= uint32(c) << z.bitcnt
	z.bitcnt += 8
	return nil
}

func (z *inflater) needBits(n uint) error {
	for z.bitcnt < n {
		if err := z.moreBits(); err != nil {
			return err
		}
	}
	return nil
}

// takeBits removes and returns the next n bits. The caller has already
// ensured they are buffered.
func (z *inflater) takeBits(n uint) uint32 {
	v := z.bitbuf & (1<<n - 1)
	z.bitbuf >>= n
	z.bitcnt -= n
	return v
}

// --- symbol input ---

// readSym decodes one symbol. The root table answers with however many
// bits are buffered: an entry is trustworthy as soon as its width fits in
// the buffered count, because the padding zeros above them cannot alter a
// match that short. Only a pattern with no short code at all forces the
// slow path, and only once nine real bits say so.
func (z *inflater) readSym(d *prefixDecoder) (int, error) {
	for {
		entry := d.root[z.bitbuf&(prefixRootSize-1)]
		if entry != 0 {
			if w := uint(entry & 0xf); w <= z.bitcnt {
				z.takeBits(w)
				return int(entry >> 4), nil
			}
		} else if z.bitcnt >= prefixRootBits {
			return z.readLongSym(d)
		}
		if err := z.moreBits(); err != nil {
			return 0, err
		}
	}
}

// readLongSym resolves a code wider than the root table covers by walking
// the canonical code one bit at a time: at each width, a code belongs to
// this alphabet iff its value falls under that width's allocation.
func (z *inflater) readLongSym(d *prefixDecoder) (int, error) {
	code, first, index := 0, 0, 0
	for w := 1; w <= d.max; w++ {
		if z.bitcnt == 0 {
			if err := z.moreBits(); err != nil {
				return 0, err
			}
		}
		code |= int(z.takeBits(1))
		n := int(d.count[w])
		if code-first < n {
			return int(d.symbols[index+code-first]), nil
		}
		index += n
		first = (first + n) << 1
		code <<= 1
	}
	return 0, CorruptInputError(z.inCount)
}

// --- block decoding ---

func (z *inflater) blockHeader() {
	if err := z.needBits(3); err != nil {
		z.err = err
		return
	}
	hdr := z.takeBits(3)
	z.final = hdr&1 != 0
	switch hdr >> 1 {
	case 0:
		z.storedSetup()
	case 1:
		z.curLit, z.curDist = fixedLiteralDecoder, fixedDistDecoder
		z.state = stateSymbols
	case 2:
		if err := z.dynamicHeader(); err != nil {
			z.err = err
			return
		}
		z.curLit, z.curDist = &z.litTree, &z.distTree
		z.state = stateSymbols
	default:
		// Block type 3 is reserved.
		z.err = CorruptInputError(z.inCount)
	}
}

func (z *inflater) endOfBlock() {
	if z.final {
		z.state = stateDone
	} else {
		z.state = stateBlockHeader
	}
}

// storedSetup reads the length words of a stored block. Stored blocks
// start on a byte boundary, so whatever is left in the accumulator is
// padding.
func (z *inflater) storedSetup() {
	z.bitbuf = 0
	z.bitcnt = 0
	var hdr [4]byte
	n, err := io.ReadFull(z.src, hdr[:])
	z.inCount += int64(n)
	if err != nil {
		z.err = &ReadError{z.inCount, err}
		return
	}
	length := int(hdr[0]) | int(hdr[1])<<8
	check := int(hdr[2]) | int(hdr[3])<<8
	if uint16(check) != ^uint16(length) {
		z.err = CorruptInputError(z.inCount)
		return
	}
	z.storedLeft = length
	z.state = stateStoredCopy
}

// storedCopy moves a stored block's bytes straight into the window,
// pausing whenever the window fills.
func (z *inflater) storedCopy() {
	for z.storedLeft > 0 {
		chunk := len(z.win) - z.wpos
		if chunk > z.storedLeft {
			chunk = z.storedLeft
		}
		n, err := io.ReadFull(z.src, z.win[z.wpos:z.wpos+chunk])
		z.inCount += int64(n)
		z.wpos += n
		z.storedLeft -= n
		if err != nil {
			z.err = &ReadError{z.inCount, err}
			return
		}
		if z.wpos == len(z.win) {
			z.flush(stateStoredCopy)
			return
		}
	}
	z.endOfBlock()
}

// symbols decodes the body of a compressed block: literals into the
// window, matches through the back-copy state, symbol 256 out.
func (z *inflater) symbols() {
	for {
		sym, err := z.readSym(z.curLit)
		if err != nil {
			z.err = err
			return
		}
		switch {
		case sym < 256:
			z.win[z.wpos] = byte(sym)
			z.wpos++
			if z.wpos == len(z.win) {
				z.flush(stateSymbols)
				return
			}
		case sym == 256:
			z.endOfBlock()
			return
		default:
			if sym >= 257+len(lengthBase) {
				z.err = CorruptInputError(z.inCount)
				return
			}
			li := sym - 257
			length := int(lengthBase[li])
			if eb := uint(lengthExtraBits[li]); eb > 0 {
				if err := z.needBits(eb); err != nil {
					z.err = err
					return
				}
				length += int(z.takeBits(eb))
			}

			dsym, err := z.readSym(z.curDist)
			if err != nil {
				z.err = err
				return
			}
			if dsym >= realDistCodes {
				z.err = CorruptInputError(z.inCount)
				return
			}
			dist := int(distBase[dsym])
			if eb := uint(distExtraBits[dsym]); eb > 0 {
				if err := z.needBits(eb); err != nil {
					z.err = err
					return
				}
				dist += int(z.takeBits(eb))
			}
			// A reference past the data written so far has nothing to
			// copy from.
			if !z.wfull && dist > z.wpos {
				z.err = CorruptInputError(z.inCount)
				return
			}

			z.copyLen, z.copyDist = length, dist
			if !z.copyStep() {
				return
			}
		}
	}
}

// copyStep resolves as much of the pending back-reference as the window
// has room for. It reports whether the copy ran to completion; when the
// window fills mid-copy the machine suspends in stateBackCopy. Source and
// destination may overlap, which repeats the overlapped bytes, so the
// copy goes one byte at a time.
func (z *inflater) copyStep() bool {
	src := z.wpos - z.copyDist
	if src < 0 {
		src += len(z.win)
	}
	for z.copyLen > 0 {
		z.win[z.wpos] = z.win[src]
		z.wpos++
		src++
		if src == len(z.win) {
			src = 0
		}
		z.copyLen--
		if z.wpos == len(z.win) {
			z.flush(stateBackCopy)
			return false
		}
	}
	return true
}

// The order code-width counts appear in a dynamic header, RFC 1951
// section 3.2.7.
var codeLengthOrder = [codeLengthCodes]int{
	16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15,
}

// dynamicHeader reads the code-width description of a dynamic block and
// builds the block's two trees.
func (z *inflater) dynamicHeader() error {
	if err := z.needBits(5 + 5 + 4); err != nil {
		return err
	}
	nlit := int(z.takeBits(5)) + 257
	ndist := int(z.takeBits(5)) + 1
	nclen := int(z.takeBits(4)) + 4
	if nlit > maxLitCodes {
		return CorruptInputError(z.inCount)
	}

	// The meta-tree: three-bit widths in the scrambled order, the rest
	// implicitly zero.
	var metaWidths [codeLengthCodes]int
	for i := 0; i < nclen; i++ {
		if err := z.needBits(3); err != nil {
			return err
		}
		metaWidths[codeLengthOrder[i]] = int(z.takeBits(3))
	}
	var meta prefixDecoder
	if !meta.init(metaWidths[:]) {
		return CorruptInputError(z.inCount)
	}

	// The widths of both alphabets, run-length encoded with the meta-tree:
	// 16 repeats the previous width, 17 and 18 insert runs of zeros.
	total := nlit + ndist
	for i := 0; i < total; {
		sym, err := z.readSym(&meta)
		if err != nil {
			return err
		}
		if sym < 16 {
			z.widths[i] = sym
			i++
			continue
		}
		var repeat, width int
		var extra uint
		switch sym {
		case 16:
			if i == 0 {
				return CorruptInputError(z.inCount)
			}
			width = z.widths[i-1]
			repeat, extra = 3, 2
		case 17:
			repeat, extra = 3, 3
		case 18:
			repeat, extra = 11, 7
		default:
			return InternalError("bad code-length symbol")
		}
		if err := z.needBits(extra); err != nil {
			return err
		}
		repeat += int(z.takeBits(extra))
		if i+repeat > total {
			return CorruptInputError(z.inCount)
		}
		for ; repeat > 0; repeat-- {
			z.widths[i] = width
			i++
		}
	}

	if !z.litTree.init(z.widths[:nlit]) || !z.distTree.init(z.widths[nlit:total]) {
		return CorruptInputError(z.inCount)
	}
	return nil
}
