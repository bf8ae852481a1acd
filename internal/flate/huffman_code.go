package flate

import "sort"

// hcode is a huffman code with a bit code and bit length.
// The code is stored bit-reversed, ready for LSB-first emission.
type hcode struct {
	code, len uint16
}

type huffmanEncoder struct {
	codes []hcode
}

type literalNode struct {
	literal uint16
	freq    int32
}

func newHuffmanEncoder(size int) *huffmanEncoder {
	return &huffmanEncoder{codes: make([]hcode, size)}
}

// Generates a HuffmanCode corresponding to the fixed literal table.
func generateFixedLiteralEncoding() *huffmanEncoder {
	h := newHuffmanEncoder(288)
	codes := h.codes
	var ch uint16
	for ch = 0; ch < 288; ch++ {
		var bits uint16
		var size uint16
		switch {
		case ch < 144:
			// size 8, 000110000  .. 10111111
			bits = ch + 48
			size = 8
		case ch < 256:
			// size 9, 110010000 .. 111111111
			bits = ch + 400 - 144
			size = 9
		case ch < 280:
			// size 7, 0000000 .. 0010111
			bits = ch - 256
			size = 7
		default:
			// size 8, 11000000 .. 11000111
			bits = ch + 192 - 280
			size = 8
		}
		codes[ch] = hcode{code: reverseBits(bits, byte(size)), len: size}
	}
	return h
}

func generateFixedDistEncoding() *huffmanEncoder {
	h := newHuffmanEncoder(distCodeCount)
	codes := h.codes
	for ch := range codes {
		codes[ch] = hcode{code: reverseBits(uint16(ch), 5), len: 5}
	}
	return h
}

var fixedLiteralEncoding = generateFixedLiteralEncoding()
var fixedDistEncoding = generateFixedDistEncoding()

func (h *huffmanEncoder) bitLength(freq []int32) int {
	var total int
	for i, f := range freq {
		if f != 0 {
			total += int(f) * int(h.codes[i].len)
		}
	}
	return total
}

// Update this Huffman Code object to be the minimum code for the specified
// frequency count, with no code longer than maxBits.
//
// freq is an array of frequencies, in which freq[i] gives the frequency of
// literal i. maxBits is less than 16.
func (h *huffmanEncoder) generate(freq []int32, maxBits int32) {
	list := make([]literalNode, 0, len(freq))
	for i, f := range freq {
		if f != 0 {
			list = append(list, literalNode{literal: uint16(i), freq: f})
		}
		h.codes[i] = hcode{}
	}

	switch len(list) {
	case 0:
		return
	case 1:
		// Degenerate alphabet: one code of length one.
		h.codes[list[0].literal] = hcode{code: 0, len: 1}
		return
	}

	// Least frequent first; ties broken by symbol so the resulting
	// directory bytes are deterministic for a given input.
	sort.Slice(list, func(i, j int) bool {
		if list[i].freq != list[j].freq {
			return list[i].freq < list[j].freq
		}
		return list[i].literal < list[j].literal
	})

	bitCount := codeDepths(list, int(maxBits))

	// Assign code lengths: the least frequent symbols receive the longest
	// codes. list is sorted ascending by frequency.
	lengthOf := make([]uint8, len(list))
	pos := 0
	for bits := int(maxBits); bits >= 1; bits-- {
		for k := 0; k < bitCount[bits]; k++ {
			lengthOf[pos] = uint8(bits)
			pos++
		}
	}

	// Canonical code assignment per RFC 1951 section 3.2.2: codes of each
	// length are consecutive, assigned in symbol order.
	var lenCount [maxCodeBits + 1]int
	symLen := make([]uint8, len(h.codes))
	for k, ln := range list {
		symLen[ln.literal] = lengthOf[k]
		lenCount[lengthOf[k]]++
	}
	var nextCode [maxCodeBits + 1]uint16
	var code uint16
	for bits := 1; bits <= maxCodeBits; bits++ {
		code = (code + uint16(lenCount[bits-1])) << 1
		nextCode[bits] = code
	}
	for sym, ln := range symLen {
		if ln == 0 {
			continue
		}
		c := nextCode[ln]
		nextCode[ln]++
		h.codes[sym] = hcode{code: reverseBits(c, ln), len: uint16(ln)}
	}
}

// codeDepths builds a Huffman tree over list (sorted ascending by
// frequency) and returns how many codes of each length the final,
// length-limited code uses. Overflow beyond maxBits is redistributed the
// way zlib's gen_bitlen does, preserving the Kraft inequality.
func codeDepths(list []literalNode, maxBits int) [maxCodeBits + 1]int {
	n := len(list)

	type treeNode struct {
		freq           int32
		child0, child1 int32 // -1 for leaves
	}
	nodes := make([]treeNode, 0, 2*n-1)
	for _, l := range list {
		nodes = append(nodes, treeNode{freq: l.freq, child0: -1, child1: -1})
	}

	// Two-queue merge: leaves are already sorted and internal nodes are
	// created in nondecreasing frequency order.
	leafPos := 0
	internal := make([]int32, 0, n-1)
	intPos := 0
	takeMin := func() int32 {
		haveLeaf := leafPos < n
		haveInt := intPos < len(internal)
		switch {
		case haveLeaf && haveInt:
			if nodes[leafPos].freq <= nodes[internal[intPos]].freq {
				leafPos++
				return int32(leafPos - 1)
			}
			intPos++
			return internal[intPos-1]
		case haveLeaf:
			leafPos++
			return int32(leafPos - 1)
		default:
			intPos++
			return internal[intPos-1]
		}
	}
	for n-leafPos+len(internal)-intPos >= 2 {
		a := takeMin()
		b := takeMin()
		nodes = append(nodes, treeNode{freq: nodes[a].freq + nodes[b].freq, child0: a, child1: b})
		internal = append(internal, int32(len(nodes)-1))
	}

	// Depth of every leaf. Children precede parents, so a reverse walk
	// sees each parent before its children.
	depth := make([]int, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		nd := nodes[i]
		if nd.child0 >= 0 {
			depth[nd.child0] = depth[i] + 1
			depth[nd.child1] = depth[i] + 1
		}
	}

	var bitCount [maxCodeBits + 1]int
	overflow := 0
	for i := 0; i < n; i++ {
		d := depth[i]
		if d > maxBits {
			d = maxBits
			overflow++
		}
		bitCount[d]++
	}
	// As in gen_bitlen, internal nodes past the limit count as overflow too.
	for i := n; i < len(nodes); i++ {
		if depth[i] > maxBits {
			overflow++
		}
	}
	for overflow > 0 {
		bits := maxBits - 1
		for bitCount[bits] == 0 {
			bits--
		}
		bitCount[bits]--
		bitCount[bits+1] += 2
		bitCount[maxBits]--
		overflow -= 2
	}
	return bitCount
}
