// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ziputils

import (
	"bytes"
	"encoding/binary"
	"hash"
	"hash/crc32"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Source-Authors/zip-utils/internal/flate"
)

type header struct {
	*FileHeader
	offset int64
}

// Writer assembles a ZIP archive into a sink. Entries are appended with
// the Add methods; Close emits the central directory and the end record.
//
// A Writer is not safe for concurrent use. Distinct Writers are fully
// independent.
type Writer struct {
	cw       countWriter
	patch    patcher   // nil when the sink cannot seek
	trunc    truncater // nil when the sink cannot rewind
	mem      *memSink  // non-nil for in-memory archives
	closer   io.Closer // file archives own their file
	dir      []*header
	password []byte
	rnd      *rand.Rand
	comment  string
	closed   bool
	failed   bool // an I/O or format error left the archive usable for Close only
}

func newWriter(sink io.Writer, password string) *Writer {
	w := &Writer{}
	w.cw.w = sink
	if password != "" {
		w.password = []byte(password)
		w.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return w
}

// CreateZip starts the creation of a zip file on disk. A non-empty
// password encrypts every file in the archive with the traditional PKWARE
// stream cipher; per-file passwords are not supported.
func CreateZip(path string, password string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, wrapErr(CodeNoFile, "create", err)
	}
	fs := &fileSink{f: f}
	w := newWriter(fs, password)
	w.patch = fs
	w.trunc = fs
	w.closer = fs
	return w, nil
}

// CreateZipBuffer starts the creation of a zip archive into a buffer
// supplied by the caller. The archive may not grow beyond len(buf).
func CreateZipBuffer(buf []byte, password string) (*Writer, error) {
	if len(buf) == 0 {
		return nil, zipErr(CodeArgs, "create")
	}
	m := newMemSink(buf)
	w := newWriter(m, password)
	w.patch = m
	w.trunc = m
	w.mem = m
	return w, nil
}

// CreateZipMemory starts the creation of a zip archive in memory owned by
// the Writer, bounded by maxLen bytes. The bytes are obtained with Memory.
func CreateZipMemory(maxLen int, password string) (*Writer, error) {
	if maxLen <= 0 {
		return nil, zipErr(CodeArgs, "create")
	}
	m := newOwnedMemSink(maxLen)
	w := newWriter(m, password)
	w.patch = m
	w.trunc = m
	w.mem = m
	return w, nil
}

// CreateZipWriter starts the creation of a zip archive into a forward-only
// writer such as a pipe. Because the sink cannot seek, sizes that are not
// known before the payload is written travel in a data descriptor after it;
// stored in-memory entries and folders carry their sizes in the local
// header.
func CreateZipWriter(dst io.Writer, password string) *Writer {
	return newWriter(&pipeSink{w: dst}, password)
}

// AddOptions control how an entry is stored.
type AddOptions struct {
	// Method is Store or Deflate. The zero value is Store; calls that take
	// no options (nil) use Deflate. Folders are always stored.
	Method uint16

	// Modified is the entry's modification time; the zero value means now.
	Modified time.Time
}

func (o *AddOptions) method() uint16 {
	if o == nil {
		return Deflate
	}
	return o.Method
}

func (o *AddOptions) modified() time.Time {
	if o == nil || o.Modified.IsZero() {
		return time.Now()
	}
	return o.Modified
}

// Add appends an entry holding data, compressed with Deflate.
func (w *Writer) Add(name string, data []byte) error {
	return w.AddWithOptions(name, data, nil)
}

// AddWithOptions appends an entry holding data.
func (w *Writer) AddWithOptions(name string, data []byte, o *AddOptions) error {
	fh, err := w.beginEntry(name, o)
	if err != nil {
		return err
	}
	fh.CRC32 = crc32.ChecksumIEEE(data)
	fh.UncompressedSize = int64(len(data))
	return w.addEntry(fh, bytes.NewReader(data), true, int64(len(data)))
}

// AddFile appends an entry whose payload is the contents of the named
// file, compressed with Deflate. The entry's modification time is taken
// from the file, or is the current time when the file cannot be stat'ed.
func (w *Writer) AddFile(name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return wrapErr(CodeNoFile, "add", err)
	}
	defer f.Close()
	var o *AddOptions
	if st, err := f.Stat(); err == nil {
		o = &AddOptions{Method: Deflate, Modified: st.ModTime()}
	}
	fh, err := w.beginEntry(name, o)
	if err != nil {
		return err
	}
	return w.addEntry(fh, f, false, SizeUnknown)
}

// AddReader appends an entry streamed from r. declaredLen, when
// non-negative, is the expected uncompressed length; if the stream turns
// out to hold a different number of bytes the entry is abandoned with a
// size-mismatch error.
func (w *Writer) AddReader(name string, r io.Reader, declaredLen int64) error {
	fh, err := w.beginEntry(name, nil)
	if err != nil {
		return err
	}
	return w.addEntry(fh, r, false, declaredLen)
}

// AddFolder appends a directory entry. The stored name always carries a
// trailing slash and the entry has no payload.
func (w *Writer) AddFolder(name string) error {
	fh, err := w.beginEntry(name, &AddOptions{Method: Store})
	if err != nil {
		return err
	}
	if !strings.HasSuffix(fh.Name, "/") {
		fh.Name += "/"
	}
	fh.Method = Store
	fh.Flags &^= flagEncrypted
	fh.CompressedSize = 0
	fh.UncompressedSize = 0
	fh.SetMode(os.ModeDir | 0755)
	prepareEntry(fh)
	// Directories carry no data, so the sizes are final and no descriptor
	// or back-patch is needed.
	fh.Flags &^= flagDataDescriptor
	offset := w.cw.count
	if err := writeLocalHeader(&w.cw, fh); err != nil {
		return w.abandonEntry(offset, err)
	}
	w.dir = append(w.dir, &header{FileHeader: fh, offset: offset})
	return nil
}

// beginEntry validates the handle state and the name, and builds the
// entry's header skeleton.
func (w *Writer) beginEntry(name string, o *AddOptions) (*FileHeader, error) {
	switch {
	case w.closed:
		return nil, zipErr(CodeEnded, "add")
	case w.failed:
		return nil, zipErr(CodeFailed, "add")
	}
	// Stored names use forward slashes regardless of how the caller
	// spelled the path.
	name = strings.ReplaceAll(name, `\`, "/")
	if name == "" || len(name) > uint16max {
		return nil, zipErr(CodeArgs, "add")
	}
	m := o.method()
	if m != Store && m != Deflate {
		return nil, zipErr(CodeArgs, "add")
	}
	fh := &FileHeader{
		Name:             name,
		Method:           m,
		Modified:         o.modified(),
		CompressedSize:   SizeUnknown,
		UncompressedSize: SizeUnknown,
	}
	fh.SetMode(0644)
	if w.password != nil {
		fh.Flags |= flagEncrypted
	}
	return fh, nil
}

// addEntry writes the local header, streams the payload through the
// configured compressor and cipher, and finishes the sizes either by
// back-patching the header or by emitting a data descriptor.
func (w *Writer) addEntry(fh *FileHeader, r io.Reader, crcKnown bool, declaredLen int64) error {
	prepareEntry(fh)

	// A stored in-memory payload has known sizes and CRC before the local
	// header goes out, so the header can carry the real values on any
	// sink. Everything else either back-patches the header (seekable
	// sinks) or trails a data descriptor (pipes). Encrypted entries
	// additionally need the CRC before the payload starts, because the
	// cipher's validator byte derives from it; when the CRC is not known
	// up front the descriptor flag switches the validator to the MS-DOS
	// time, which is always known.
	sizesKnown := crcKnown && fh.Method == Store
	if sizesKnown {
		fh.CompressedSize = fh.UncompressedSize
		if w.password != nil {
			fh.CompressedSize += encryptHeaderLen
		}
	}
	if (w.patch == nil && !sizesKnown) || (w.password != nil && !crcKnown) {
		fh.Flags |= flagDataDescriptor
	}

	offset := w.cw.count
	if err := writeLocalHeader(&w.cw, fh); err != nil {
		return w.abandonEntry(offset, err)
	}
	dataStart := w.cw.count

	var out io.Writer = &w.cw
	if w.password != nil {
		keys := newCryptoKeys(w.password)
		var validator byte
		if fh.Flags&flagDataDescriptor != 0 {
			_, dosTime := timeToMsDosTime(fh.Modified)
			validator = byte(dosTime >> 8)
		} else {
			validator = byte(fh.CRC32 >> 24)
		}
		hdr := makeEncryptHeader(&keys, validator, w.rnd)
		if _, err := w.cw.Write(hdr[:]); err != nil {
			return w.abandonEntry(offset, err)
		}
		out = &encryptWriter{w: out, keys: &keys}
	}

	crc := crc32.NewIEEE()
	var uncompressed int64
	payload := io.TeeReader(r, &countHash{h: crc, n: &uncompressed})

	var copyErr error
	if fh.Method == Deflate {
		fw, err := flate.NewWriter(out, flate.DefaultCompression)
		if err != nil {
			return w.abandonEntry(offset, wrapErr(CodeNotInited, "add", err))
		}
		if _, copyErr = io.Copy(fw, payload); copyErr == nil {
			copyErr = fw.Close()
		}
	} else {
		_, copyErr = io.Copy(out, payload)
	}
	if copyErr != nil {
		if AsCode(copyErr) == CodeNotInited {
			copyErr = wrapErr(CodeRead, "add", copyErr)
		}
		return w.abandonEntry(offset, copyErr)
	}

	fh.CRC32 = crc.Sum32()
	fh.UncompressedSize = uncompressed
	fh.CompressedSize = w.cw.count - dataStart

	if declaredLen >= 0 && declaredLen != uncompressed {
		// The caller remains free to add further entries; only this one
		// is dropped.
		if w.trunc != nil {
			if err := w.trunc.TruncateTo(offset); err == nil {
				w.cw.count = offset
			}
		}
		return zipErr(CodeSizeMismatch, "add")
	}

	if fh.Flags&flagDataDescriptor != 0 {
		if _, err := w.cw.Write(makeDataDescriptor(fh)); err != nil {
			return w.abandonEntry(offset, err)
		}
	} else if w.patch != nil {
		var buf [12]byte
		b := writeBuf(buf[:])
		b.uint32(fh.CRC32)
		b.uint32(uint32(fh.CompressedSize))
		b.uint32(uint32(fh.UncompressedSize))
		if err := w.patch.PatchAt(buf[:], offset+14); err != nil {
			return w.abandonEntry(offset, err)
		}
	}

	w.dir = append(w.dir, &header{FileHeader: fh, offset: offset})
	return nil
}

// abandonEntry rewinds a partially written entry where the sink allows it
// and marks the archive failed: an I/O error leaves the handle usable for
// Close only, which still emits a central directory without the entry.
func (w *Writer) abandonEntry(offset int64, err error) error {
	if w.trunc != nil {
		if terr := w.trunc.TruncateTo(offset); terr == nil {
			w.cw.count = offset
		}
	}
	w.failed = true
	return err
}

// countHash feeds a hash and counts bytes; it is the tee target for
// payload streams.
type countHash struct {
	h hash.Hash32
	n *int64
}

func (c *countHash) Write(p []byte) (int, error) {
	c.h.Write(p)
	*c.n += int64(len(p))
	return len(p), nil
}

// Memory finalizes an in-memory archive and returns its bytes. It is an
// error on archives that are not memory-backed. No entries can be added
// afterwards.
func (w *Writer) Memory() ([]byte, error) {
	if w.mem == nil {
		return nil, zipErr(CodeNotMmap, "memory")
	}
	if !w.closed {
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	return w.mem.Bytes(), nil
}

// Close emits the central directory and the end-of-central-directory
// record, and releases the sink. Close is idempotent.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := writeCentralDirectory(w.cw.count, w.dir, &w.cw, w.comment)
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil && cerr != nil {
			err = wrapErr(CodeWrite, "close", cerr)
		}
	}
	return err
}

// SetComment sets the archive comment recorded in the end record. It must
// be set before Close.
func (w *Writer) SetComment(comment string) error {
	if len(comment) > uint16max {
		return zipErr(CodeArgs, "comment")
	}
	w.comment = comment
	return nil
}

// detectUTF8 reports whether s is a valid UTF-8 string, and whether the string
// must be considered UTF-8 encoding (i.e., not compatible with CP-437, ASCII,
// or any other common encoding).
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		// Officially, ZIP uses CP-437, but many readers use the system's
		// local character encoding. Most encoding are compatible with a large
		// subset of CP-437, which itself is ASCII-like.
		//
		// Forbid 0x7e and 0x5c since EUC-KR and Shift-JIS replace those
		// characters with localized currency and overline characters.
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}

// prepareEntry fills the header fields every entry shares: character
// encoding flag, format versions and the extended timestamp extra field.
func prepareEntry(fh *FileHeader) {
	// In order to avoid breaking readers without UTF-8 support, the UTF-8
	// flag is only set when the strings actually require it.
	utf8Valid1, utf8Require1 := detectUTF8(fh.Name)
	utf8Valid2, utf8Require2 := detectUTF8(fh.Comment)
	switch {
	case fh.NonUTF8:
		fh.Flags &^= flagUTF8
	case (utf8Require1 || utf8Require2) && (utf8Valid1 && utf8Valid2):
		fh.Flags |= flagUTF8
	}

	fh.CreatorVersion = fh.CreatorVersion&0xff00 | zipVersion20 // preserve compatibility byte
	fh.ReaderVersion = zipVersion20

	// Use "extended timestamp" format since this is what Info-ZIP uses.
	// Nearly every major ZIP implementation uses a different format,
	// but at least most seem to be able to understand the other formats.
	//
	// This format happens to be identical for both local and central header
	// if modification time is the only timestamp being encoded.
	var mbuf [9]byte // 2x uint16 + uint8 + uint32
	mt := uint32(fh.Modified.Unix())
	eb := writeBuf(mbuf[:])
	eb.uint16(extTimeExtraID)
	eb.uint16(5)  // Size: SizeOf(uint8) + SizeOf(uint32)
	eb.uint8(1)   // Flags: ModTime
	eb.uint32(mt) // ModTime
	fh.Extra = append(fh.Extra, mbuf[:]...)
}

func writeLocalHeader(w io.Writer, fh *FileHeader) error {
	if len(fh.Extra) > uint16max {
		return zipErr(CodeArgs, "add")
	}

	modifiedDate, modifiedTime := timeToMsDosTime(fh.Modified)

	var buf [fileHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(uint32(fileHeaderSignature))
	b.uint16(fh.ReaderVersion)
	b.uint16(fh.Flags)
	b.uint16(fh.Method)
	b.uint16(modifiedTime)
	b.uint16(modifiedDate)
	if fh.Flags&flagDataDescriptor == 0 && fh.hasValidSizes() {
		b.uint32(fh.CRC32)
		b.uint32(uint32(fh.CompressedSize))
		b.uint32(uint32(fh.UncompressedSize))
	} else {
		// Filled in by a back-patch or a trailing data descriptor.
		b.uint32(0)
		b.uint32(0)
		b.uint32(0)
	}
	b.uint16(uint16(len(fh.Name)))
	b.uint16(uint16(len(fh.Extra)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, fh.Name); err != nil {
		return err
	}
	_, err := w.Write(fh.Extra)
	return err
}

func makeDataDescriptor(fh *FileHeader) []byte {
	// Write data descriptor. This is more complicated than one would
	// think, see e.g. comments in zipfile.c:putextended() and
	// http://bugs.sun.com/bugdatabase/view_bug.do?bug_id=7073588.
	// The descriptor signature is de-facto standard, required by OS X.
	buf := make([]byte, dataDescriptorLen)
	b := writeBuf(buf)
	b.uint32(dataDescriptorSignature)
	b.uint32(fh.CRC32)
	b.uint32(uint32(fh.CompressedSize))
	b.uint32(uint32(fh.UncompressedSize))
	return buf
}

func writeCentralDirectory(start int64, dir []*header, writer io.Writer, comment string) error {
	if len(comment) > uint16max {
		return zipErr(CodeArgs, "close")
	}
	cw := &countWriter{w: writer}
	for _, h := range dir {
		modifiedDate, modifiedTime := timeToMsDosTime(h.Modified)

		var buf [directoryHeaderLen]byte
		b := writeBuf(buf[:])
		b.uint32(uint32(directoryHeaderSignature))
		b.uint16(h.CreatorVersion)
		b.uint16(h.ReaderVersion)
		b.uint16(h.Flags)
		b.uint16(h.Method)
		b.uint16(modifiedTime)
		b.uint16(modifiedDate)
		b.uint32(h.CRC32)
		b.uint32(uint32(h.CompressedSize))
		b.uint32(uint32(h.UncompressedSize))
		b.uint16(uint16(len(h.Name)))
		b.uint16(uint16(len(h.Extra)))
		b.uint16(uint16(len(h.Comment)))
		b = b[4:] // skip disk number start and internal file attr (2x uint16)
		b.uint32(h.ExternalAttrs)
		b.uint32(uint32(h.offset))
		if _, err := cw.Write(buf[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(cw, h.Name); err != nil {
			return err
		}
		if _, err := cw.Write(h.Extra); err != nil {
			return err
		}
		if _, err := io.WriteString(cw, h.Comment); err != nil {
			return err
		}
	}

	// write end record
	var buf [directoryEndLen]byte
	b := writeBuf(buf[:])
	b.uint32(uint32(directoryEndSignature))
	b = b[4:]                          // skip over disk number and first disk number (2x uint16)
	b.uint16(uint16(len(dir)))         // number of entries this disk
	b.uint16(uint16(len(dir)))         // number of entries total
	b.uint32(uint32(cw.count))         // size of directory
	b.uint32(uint32(start))            // start of directory
	b.uint16(uint16(len(comment)))     // byte size of EOCD comment
	if _, err := cw.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(cw, comment); err != nil {
		return err
	}

	return nil
}

type writeBuf []byte

func (b *writeBuf) uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

type readBuf []byte

func (b *readBuf) uint8() uint8 {
	x := (*b)[0]
	*b = (*b)[1:]
	return x
}

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}
