package flate

// A token is either a literal (including the end-of-block symbol 256) or a
// back-reference. Bit 31 marks a match; a match carries the length bias
// (length minus 3, the format's minimum) in bits 16-23 and the distance
// bias (distance minus 1) in bits 0-15.
type token uint32

const matchBit = 1 << 31

func literalToken(lit uint32) token { return token(lit) }

func matchToken(xlength, xdist uint32) token {
	return token(matchBit | xlength<<16 | xdist)
}

func (t token) isLiteral() bool { return t&matchBit == 0 }

// literal returns the literal byte or the end-of-block symbol.
func (t token) literal() uint32 { return uint32(t) }

// xlength returns the match length bias (length - 3).
func (t token) xlength() uint32 { return uint32(t) >> 16 & 0xff }

// xdist returns the match distance bias (distance - 1).
func (t token) xdist() uint32 { return uint32(t) & 0xffff }

// The base values and extra-bit widths of the length codes 257-285 and the
// distance codes 0-29, from RFC 1951 section 3.2.5. lengthBase holds real
// lengths and distBase real distances; the token fields are biased, so
// users subtract 3 or 1 as needed.

var lengthBase = [29]uint32{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13,
	15, 17, 19, 23, 27, 31, 35, 43, 51, 59,
	67, 83, 99, 115, 131, 163, 195, 227, 258,
}

var lengthExtraBits = [29]uint8{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1,
	1, 1, 2, 2, 2, 2, 3, 3, 3, 3,
	4, 4, 4, 4, 5, 5, 5, 5, 0,
}

var distBase = [30]uint32{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25,
	33, 49, 65, 97, 129, 193, 257, 385, 513, 769,
	1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
}

var distExtraBits = [30]uint8{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3,
	4, 4, 5, 5, 6, 6, 7, 7, 8, 8,
	9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

// lengthCodeTable maps a length bias (0-255) to its length code index
// (0-28, i.e. symbol minus 257). distCodeTable covers distance biases
// below 256; larger distances reuse it shifted, since the code boundaries
// above 256 repeat every 128 and every 16384.
var lengthCodeTable [256]uint8
var distCodeTable [256]uint8

func init() {
	code := 0
	for bias := range lengthCodeTable {
		for code < len(lengthBase)-2 && uint32(bias)+3 >= lengthBase[code+1] {
			code++
		}
		lengthCodeTable[bias] = uint8(code)
	}
	// 258 has its own dedicated code.
	lengthCodeTable[255] = uint8(len(lengthBase) - 1)

	code = 0
	for bias := range distCodeTable {
		for code < len(distBase)-1 && uint32(bias)+1 >= distBase[code+1] {
			code++
		}
		distCodeTable[bias] = uint8(code)
	}
}

func lengthCodeOf(xlength uint32) uint32 { return uint32(lengthCodeTable[xlength]) }

func distCodeOf(xdist uint32) uint32 {
	switch {
	case xdist < 256:
		return uint32(distCodeTable[xdist])
	case xdist>>7 < 256:
		return uint32(distCodeTable[xdist>>7]) + 14
	default:
		return uint32(distCodeTable[xdist>>14]) + 28
	}
}
