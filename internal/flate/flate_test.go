package flate

import (
	"bytes"
	stdflate "compress/flate"
	"io"
	"math/rand"
	"strings"
	"testing"
)

func testPayloads() map[string][]byte {
	rnd := rand.New(rand.NewSource(1))
	random := make([]byte, 200<<10)
	rnd.Read(random)
	return map[string][]byte{
		"empty":      nil,
		"hello":      []byte("Hello\n"),
		"runs":       bytes.Repeat([]byte{'a'}, 68608),
		"text":       []byte(strings.Repeat("Rabbits, guinea pigs, gophers, marsupial rats, and quolls.\n", 1000)),
		"random":     random,
		"short-run":  []byte("aaa"),
		"structured": bytes.Repeat([]byte{0, 1, 2, 3, 4, 5, 6, 7}, 12345),
	}
}

func ourDeflate(t *testing.T, data []byte, level int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, level)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func TestWriterReadableByStdlib(t *testing.T) {
	for name, data := range testPayloads() {
		for _, level := range []int{1, 6, 9} {
			compressed := ourDeflate(t, data, level)
			r := stdflate.NewReader(bytes.NewReader(compressed))
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("%s/level %d: stdlib inflate: %v", name, level, err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("%s/level %d: stdlib inflate mismatch: got %d bytes, want %d", name, level, len(got), len(data))
			}
		}
	}
}

func TestReaderReadsStdlibOutput(t *testing.T) {
	for name, data := range testPayloads() {
		var buf bytes.Buffer
		w, err := stdflate.NewWriter(&buf, 6)
		if err != nil {
			t.Fatalf("stdlib NewWriter: %v", err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("stdlib Write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("stdlib Close: %v", err)
		}

		r := NewReader(bytes.NewReader(buf.Bytes()))
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("%s: inflate: %v", name, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("%s: inflate mismatch: got %d bytes, want %d", name, len(got), len(data))
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for name, data := range testPayloads() {
		compressed := ourDeflate(t, data, DefaultCompression)
		r := NewReader(bytes.NewReader(compressed))
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("%s: inflate: %v", name, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("%s: round trip mismatch", name)
		}
	}
}

// trickleReader returns at most chunk bytes per Read and no ReadByte, so
// the decompressor sees input in arbitrary slices.
type trickleReader struct {
	r     io.Reader
	chunk int
}

func (tr *trickleReader) Read(p []byte) (int, error) {
	if len(p) > tr.chunk {
		p = p[:tr.chunk]
	}
	return tr.r.Read(p)
}

func TestResumability(t *testing.T) {
	data := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 4096))
	compressed := ourDeflate(t, data, DefaultCompression)

	for _, inChunk := range []int{1, 3, 17, 4096} {
		for _, outChunk := range []int{1, 7, 1024} {
			r := NewReader(&trickleReader{r: bytes.NewReader(compressed), chunk: inChunk})
			var got []byte
			buf := make([]byte, outChunk)
			for {
				n, err := r.Read(buf)
				got = append(got, buf[:n]...)
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("in=%d out=%d: %v", inChunk, outChunk, err)
				}
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("in=%d out=%d: output differs from single-shot decode", inChunk, outChunk)
			}
		}
	}
}

func TestCorruptInput(t *testing.T) {
	cases := map[string][]byte{
		"reserved block type": {0x07},       // BFINAL=1, BTYPE=3
		"stored len mismatch": {0x01, 0x12, 0x34, 0x00, 0x00}, // NLEN != ^LEN
	}
	for name, in := range cases {
		r := NewReader(bytes.NewReader(in))
		_, err := io.ReadAll(r)
		if _, ok := err.(CorruptInputError); !ok {
			t.Fatalf("%s: got %v, want CorruptInputError", name, err)
		}
	}
}

func TestTruncatedStream(t *testing.T) {
	// A valid stream cut off halfway through its data.
	var buf bytes.Buffer
	w, err := stdflate.NewWriter(&buf, 6)
	if err != nil {
		t.Fatal(err)
	}
	w.Write(bytes.Repeat([]byte("ab"), 200))
	w.Close()

	// Decoding a stream truncated mid-block must end in an error rather
	// than silence.
	whole := buf.Bytes()
	r := NewReader(bytes.NewReader(whole[:len(whole)/2]))
	_, err = io.ReadAll(r)
	if err == nil {
		t.Fatal("truncated stream decoded without error")
	}
}

func TestHuffmanEncoderDeterminism(t *testing.T) {
	freq := make([]int32, maxLitCodes)
	for i := range freq {
		freq[i] = int32((i * 7) % 97)
	}
	freq[endBlockMarker] = 1

	a := newHuffmanEncoder(len(freq))
	b := newHuffmanEncoder(len(freq))
	a.generate(freq, 15)
	b.generate(freq, 15)
	for i := range a.codes {
		if a.codes[i] != b.codes[i] {
			t.Fatalf("code %d differs between runs: %v vs %v", i, a.codes[i], b.codes[i])
		}
	}
}

func TestHuffmanEncoderValid(t *testing.T) {
	cases := map[string][]int32{
		"single":  append(make([]int32, 285), 42),
		"two":     {5, 0, 0, 9},
		"uniform": bytes28(),
		"skewed":  {1, 1, 1, 1, 1, 1, 1, 1000000},
	}
	for name, freq := range cases {
		h := newHuffmanEncoder(len(freq))
		h.generate(freq, 15)

		// Kraft inequality: the code must be a valid prefix code.
		var kraft float64
		lengths := make([]int, len(freq))
		for i, f := range freq {
			if f == 0 {
				if h.codes[i].len != 0 {
					t.Fatalf("%s: absent symbol %d got a code", name, i)
				}
				continue
			}
			if h.codes[i].len == 0 || h.codes[i].len > 15 {
				t.Fatalf("%s: symbol %d has invalid length %d", name, i, h.codes[i].len)
			}
			lengths[i] = int(h.codes[i].len)
			kraft += 1 / float64(int(1)<<h.codes[i].len)
		}
		if kraft > 1 {
			t.Fatalf("%s: Kraft sum %v > 1", name, kraft)
		}

		// And the decoder side must accept the widths.
		var d prefixDecoder
		if !d.init(lengths) {
			t.Fatalf("%s: decoder rejected generated lengths", name)
		}
	}
}

func bytes28() []int32 {
	f := make([]int32, 280)
	for i := range f {
		f[i] = 3
	}
	return f
}

func TestEmptyInputSingleStoredBlock(t *testing.T) {
	out := ourDeflate(t, nil, DefaultCompression)
	// One empty stored block: 3 header bits padded to a byte, then
	// LEN=0 and NLEN=^0.
	want := []byte{0x01, 0x00, 0x00, 0xff, 0xff}
	if !bytes.Equal(out, want) {
		t.Fatalf("empty input encodes to % x, want % x", out, want)
	}
}

func TestLongestMatchLength(t *testing.T) {
	// 258-byte matches use the dedicated length symbol; make sure a run
	// long enough to need several of them survives.
	data := bytes.Repeat([]byte{'x'}, 3*258+7)
	out := ourDeflate(t, data, BestCompression)
	r := NewReader(bytes.NewReader(out))
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("long run round trip failed")
	}
}
