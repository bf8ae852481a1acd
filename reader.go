package ziputils

import (
	"bufio"
	"bytes"
	"errors"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/Source-Authors/zip-utils/internal/flate"
)

// fileEntry is a parsed directory entry plus its location in the archive.
type fileEntry struct {
	FileHeader
	headerOffset int64
	rawDosTime   uint16 // as stored in the local header; feeds the cipher validator
}

// Reader gives access to the entries of an existing ZIP archive.
//
// Archives opened from a file or a memory block allow random access;
// archives opened from a forward-only stream may only be walked in order,
// and each entry extracted at most once.
//
// A Reader is not safe for concurrent use. Distinct Readers are fully
// independent.
type Reader struct {
	src      sizedReaderAt // random access, nil in sequential mode
	seq      *seqState     // sequential mode, nil otherwise
	closer   io.Closer
	entries  []*fileEntry
	password []byte
	baseDir  string
	closed   bool
	failed   bool

	// index buckets entries by the hash of their case-folded name.
	index map[uint64][]int

	// One in-progress buffered extraction at a time; entries whose
	// extraction was started and then walked away from can only report
	// that they were partially unzipped.
	partial     *partialExtract
	partialDone map[int]bool
}

type partialExtract struct {
	index    int
	r        io.Reader
	crc      hash.Hash32
	produced int64
	finished bool
	finish   func() error // post-stream work: descriptor, CRC check
}

// seqState walks local headers in a forward-only stream.
type seqState struct {
	br        *bufio.Reader
	done      bool // central directory reached
	extracted bool // current (last discovered) entry already consumed
}

// OpenZip opens a zip file on disk for reading. The password decrypts
// entries encrypted with the traditional stream cipher; pass "" for
// archives that are not encrypted.
func OpenZip(path string, password string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapErr(CodeNoFile, "open", err)
	}
	src, err := newFileSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r, err := newReader(src, password)
	if err != nil {
		src.Close()
		return nil, err
	}
	r.closer = src
	return r, nil
}

// OpenZipMemory opens a zip archive held in a memory block.
func OpenZipMemory(b []byte, password string) (*Reader, error) {
	return newReader(bytes.NewReader(b), password)
}

// OpenZipReader opens a zip archive arriving through a forward-only
// stream such as a pipe. Entries may only be visited in increasing order
// and each may be unzipped once; Find and Count are unavailable until the
// end of the stream is reached.
func OpenZipReader(rd io.Reader, password string) (*Reader, error) {
	r := &Reader{
		seq:         &seqState{br: bufio.NewReader(rd)},
		partialDone: make(map[int]bool),
	}
	if password != "" {
		r.password = []byte(password)
	}
	return r, nil
}

func newReader(src sizedReaderAt, password string) (*Reader, error) {
	r := &Reader{
		src:         src,
		partialDone: make(map[int]bool),
	}
	if password != "" {
		r.password = []byte(password)
	}
	if err := r.readDirectory(); err != nil {
		return nil, err
	}
	return r, nil
}

// readDirectory locates the end-of-central-directory record by scanning
// the archive tail for its signature, then parses every directory header.
func (r *Reader) readDirectory() error {
	size := r.src.Size()
	if size < directoryEndLen {
		return zipErr(CodeCorrupt, "open")
	}

	// The EOCD is within the last 64 KiB + 22 bytes, however long the
	// trailing comment is.
	tailLen := int64(directoryEndLen + uint16max)
	if tailLen > size {
		tailLen = size
	}
	tail := make([]byte, tailLen)
	if _, err := io.ReadFull(io.NewSectionReader(r.src, size-tailLen, tailLen), tail); err != nil {
		return wrapErr(CodeRead, "open", err)
	}
	p := findSignatureInBlock(tail)
	if p < 0 {
		return zipErr(CodeCorrupt, "open")
	}
	eocdOffset := size - tailLen + int64(p)

	b := readBuf(tail[p+4:])
	b = b[4:] // skip disk fields
	b.uint16() // entries on this disk; same as total without spanning
	entryCount := int(b.uint16())
	dirSize := int64(b.uint32())
	dirOffset := int64(b.uint32())
	if dirOffset+dirSize > eocdOffset {
		return zipErr(CodeCorrupt, "open")
	}

	dir := make([]byte, dirSize)
	if _, err := io.ReadFull(io.NewSectionReader(r.src, dirOffset, dirSize), dir); err != nil {
		return wrapErr(CodeRead, "open", err)
	}

	d := readBuf(dir)
	for i := 0; i < entryCount; i++ {
		e, err := parseDirectoryHeader(&d)
		if err != nil {
			return err
		}
		r.entries = append(r.entries, e)
	}
	return nil
}

func findSignatureInBlock(b []byte) int {
	for i := len(b) - directoryEndLen; i >= 0; i-- {
		// defined from directoryEndSignature, little-endian
		if b[i] == 'P' && b[i+1] == 'K' && b[i+2] == 0x05 && b[i+3] == 0x06 {
			// n is length of comment
			n := int(b[i+directoryEndLen-2]) | int(b[i+directoryEndLen-1])<<8
			if n+directoryEndLen+i <= len(b) {
				return i
			}
		}
	}
	return -1
}

func parseDirectoryHeader(d *readBuf) (*fileEntry, error) {
	if len(*d) < directoryHeaderLen {
		return nil, zipErr(CodeCorrupt, "open")
	}
	if d.uint32() != directoryHeaderSignature {
		return nil, zipErr(CodeCorrupt, "open")
	}
	e := &fileEntry{}
	e.CreatorVersion = d.uint16()
	e.ReaderVersion = d.uint16()
	e.Flags = d.uint16()
	e.Method = d.uint16()
	dosTime := d.uint16()
	dosDate := d.uint16()
	e.CRC32 = d.uint32()
	e.CompressedSize = int64(d.uint32())
	e.UncompressedSize = int64(d.uint32())
	nameLen := int(d.uint16())
	extraLen := int(d.uint16())
	commentLen := int(d.uint16())
	*d = (*d)[4:] // skip disk number start and internal attrs
	e.ExternalAttrs = d.uint32()
	e.headerOffset = int64(d.uint32())
	if len(*d) < nameLen+extraLen+commentLen {
		return nil, zipErr(CodeCorrupt, "open")
	}
	e.Name = string((*d)[:nameLen])
	*d = (*d)[nameLen:]
	e.Extra = append([]byte(nil), (*d)[:extraLen]...)
	*d = (*d)[extraLen:]
	e.Comment = string((*d)[:commentLen])
	*d = (*d)[commentLen:]

	e.Modified = msDosTimeToTime(dosDate, dosTime)
	e.parseExtra()
	return e, nil
}

// Count returns the number of entries in the archive. For archives opened
// from a forward-only stream the count is unknown until the whole stream
// has been walked; Count returns -1 before that.
func (r *Reader) Count() int {
	if r.seq != nil && !r.seq.done {
		return -1
	}
	return len(r.entries)
}

// Entry returns the header of the entry at the given index. On
// forward-only streams a later index reads forward to that entry's local
// header; an earlier index returns the header already read, though
// extracting that entry is then a seek error.
func (r *Reader) Entry(index int) (*FileHeader, error) {
	if r.closed {
		return nil, zipErr(CodeEnded, "entry")
	}
	if index < 0 {
		return nil, zipErr(CodeArgs, "entry")
	}
	if r.seq != nil {
		if err := r.seqAdvanceTo(index); err != nil {
			return nil, err
		}
	}
	if index >= len(r.entries) {
		return nil, zipErr(CodeNotFound, "entry")
	}
	return &r.entries[index].FileHeader, nil
}

// Find looks an entry up by name. When ignoreCase is set the comparison
// folds ASCII letters only; other bytes compare exactly. Stored names use
// forward slashes, but a query may spell the path either way.
// Find needs the whole directory, so on forward-only streams it is a seek
// error until the stream's end has been reached.
func (r *Reader) Find(name string, ignoreCase bool) (int, *FileHeader, error) {
	if r.closed {
		return -1, nil, zipErr(CodeEnded, "find")
	}
	if r.seq != nil && !r.seq.done {
		return -1, nil, zipErr(CodeSeek, "find")
	}
	if r.index == nil {
		r.index = make(map[uint64][]int, len(r.entries))
		for i, e := range r.entries {
			key := xxhash.Sum64String(foldName(e.Name))
			r.index[key] = append(r.index[key], i)
		}
	}
	query := strings.ReplaceAll(name, `\`, "/")
	for _, i := range r.index[xxhash.Sum64String(foldName(query))] {
		stored := r.entries[i].Name
		if stored == query || (ignoreCase && foldName(stored) == foldName(query)) {
			return i, &r.entries[i].FileHeader, nil
		}
	}
	return -1, nil, zipErr(CodeNotFound, "find")
}

// foldName lowercases ASCII A-Z only and normalizes backslashes, matching
// the lookup behavior of legacy Windows zippers. Non-ASCII bytes are left
// alone even though names may be UTF-8.
func foldName(name string) string {
	var b []byte
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z':
			c += 'a' - 'A'
		case c == '\\':
			c = '/'
		default:
			if b == nil {
				continue
			}
		}
		if b == nil {
			b = []byte(name[:i])
		}
		b = append(b, c)
	}
	if b == nil {
		return name
	}
	return string(b)
}

// SetBaseDir sets the directory that relative names resolve against when
// extracting to files. Stored names are used verbatim below it: no
// rejection of ".." components or absolute names is attempted, exactly as
// the legacy implementation behaved. Callers that unpack untrusted
// archives must sanitize names themselves.
func (r *Reader) SetBaseDir(dir string) error {
	if r.closed {
		return zipErr(CodeEnded, "basedir")
	}
	r.baseDir = dir
	return nil
}

// ExtractToWriter unzips the entry at index into w. Directory entries
// produce no bytes.
func (r *Reader) ExtractToWriter(index int, w io.Writer) error {
	pr, err := r.beginExtract(index)
	if err != nil {
		return err
	}
	defer r.clearPartial(pr)
	buf := make([]byte, 32*1024)
	for !pr.finished {
		n, rerr := r.fillFrom(pr, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				r.failed = true
				return wrapErr(CodeWrite, "extract", werr)
			}
		}
		if rerr != nil {
			return rerr
		}
	}
	return pr.finish()
}

// ExtractToFile unzips the entry at index into the named file, creating
// parent directories as needed. Relative paths resolve against the base
// dir. A directory entry just creates the directory.
func (r *Reader) ExtractToFile(index int, path string) error {
	fh, err := r.Entry(index)
	if err != nil {
		return err
	}
	dst := path
	if !filepath.IsAbs(dst) && r.baseDir != "" {
		dst = filepath.Join(r.baseDir, dst)
	}
	if fh.IsDir() {
		if err := os.MkdirAll(dst, 0755); err != nil {
			return wrapErr(CodeMakeDir, "extract", err)
		}
		return nil
	}
	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return wrapErr(CodeMakeDir, "extract", err)
		}
	}
	f, err := os.Create(dst)
	if err != nil {
		return wrapErr(CodeNoFile, "extract", err)
	}
	if err := r.ExtractToWriter(index, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return wrapErr(CodeWrite, "extract", err)
	}
	if !fh.Modified.IsZero() {
		atime := fh.Accessed
		if atime.IsZero() {
			atime = fh.Modified
		}
		if err := os.Chtimes(dst, atime, fh.Modified); err != nil {
			return wrapErr(CodeSetTime, "extract", err)
		}
	}
	return nil
}

// ExtractBuffer unzips the entry at index into buf. When buf is too small
// for the whole entry the call returns CodeMore and a subsequent call with
// the same index continues where the previous one stopped. Starting any
// other extraction (of another entry, or of the same entry through another
// method) while one is left unfinished makes the unfinished entry report
// CodePartial from then on; Entry and Find do not affect it.
func (r *Reader) ExtractBuffer(index int, buf []byte) (int, error) {
	var pr *partialExtract
	if r.partial != nil && r.partial.index == index {
		pr = r.partial
	} else {
		var err error
		pr, err = r.beginExtract(index)
		if err != nil {
			return 0, err
		}
	}

	n, err := r.fillFrom(pr, buf)
	if err != nil {
		r.clearPartial(pr)
		return n, err
	}
	if pr.finished {
		r.clearPartial(pr)
		return n, pr.finish()
	}
	r.partial = pr
	return n, zipErr(CodeMore, "extract")
}

// beginExtract validates handle and entry state and builds the decode
// chain for a fresh extraction of the entry at index.
func (r *Reader) beginExtract(index int) (*partialExtract, error) {
	switch {
	case r.closed:
		return nil, zipErr(CodeEnded, "extract")
	case r.failed:
		return nil, zipErr(CodeFailed, "extract")
	}
	if r.partial != nil {
		// Walking away from an unfinished extraction abandons it for
		// good: the decode state mid-window cannot be resumed later.
		r.partialDone[r.partial.index] = true
		r.partial = nil
	}
	if r.partialDone[index] {
		return nil, zipErr(CodePartial, "extract")
	}

	if r.seq != nil {
		return r.beginExtractSequential(index)
	}

	if index < 0 || index >= len(r.entries) {
		return nil, zipErr(CodeNotFound, "extract")
	}
	e := r.entries[index]
	if e.IsDir() {
		return &partialExtract{
			index:  index,
			r:      bytes.NewReader(nil),
			crc:    crc32.NewIEEE(),
			finish: func() error { return nil },
		}, nil
	}

	// Reparse the local header to find where the payload starts. The
	// central directory sizes win over the local ones, which are zero
	// when the entry was streamed out (flag bit 3).
	var lh [fileHeaderLen]byte
	if _, err := io.ReadFull(io.NewSectionReader(r.src, e.headerOffset, fileHeaderLen), lh[:]); err != nil {
		return nil, wrapErr(CodeRead, "extract", err)
	}
	b := readBuf(lh[:])
	if b.uint32() != fileHeaderSignature {
		r.failed = true
		return nil, zipErr(CodeCorrupt, "extract")
	}
	b = b[2+2+2:] // version, flags, method
	localDosTime := b.uint16()
	b = b[2+4+4+4:] // date, crc, csize, usize
	nameLen := int64(b.uint16())
	extraLen := int64(b.uint16())
	dataOffset := e.headerOffset + fileHeaderLen + nameLen + extraLen

	csize := e.CompressedSize
	// The section reader bounds the compressed bytes, so buffering can
	// never leak past the entry.
	raw := io.Reader(bufio.NewReader(io.NewSectionReader(r.src, dataOffset, csize)))
	return r.buildDecodeChain(index, &e.FileHeader, raw, csize, localDosTime)
}

// buildDecodeChain stacks decryption and decompression over the raw
// compressed bytes of an entry.
func (r *Reader) buildDecodeChain(index int, fh *FileHeader, raw io.Reader, csize int64, localDosTime uint16) (*partialExtract, error) {
	if fh.Flags&flagEncrypted != 0 {
		if r.password == nil {
			r.failed = true
			return nil, zipErr(CodePassword, "extract")
		}
		keys := newCryptoKeys(r.password)
		var hdr [encryptHeaderLen]byte
		if _, err := io.ReadFull(raw, hdr[:]); err != nil {
			r.failed = true
			return nil, wrapErr(CodeCorrupt, "extract", err)
		}
		// The validator is the CRC's high byte, or the MS-DOS time's when
		// the sizes travel in a data descriptor and the CRC was unknown
		// at encryption time.
		var validator byte
		if fh.Flags&flagDataDescriptor != 0 {
			validator = byte(localDosTime >> 8)
		} else {
			validator = byte(fh.CRC32 >> 24)
		}
		if !checkDecryptHeader(&keys, hdr[:], validator) {
			r.failed = true
			return nil, zipErr(CodePassword, "extract")
		}
		raw = &decryptReader{r: raw, keys: &keys}
		if csize >= 0 {
			csize -= encryptHeaderLen
		}
	}

	pr := &partialExtract{index: index, crc: crc32.NewIEEE()}
	switch fh.Method {
	case Store:
		if csize < 0 {
			// A stored entry streamed with unknown sizes has no length
			// marker to stop at.
			r.failed = true
			return nil, zipErr(CodeCorrupt, "extract")
		}
		pr.r = io.LimitReader(raw, csize)
	case Deflate:
		pr.r = flate.NewReader(byteReaderFor(raw))
	default:
		r.failed = true
		return nil, zipErr(CodeCorrupt, "extract")
	}
	expected := fh
	pr.finish = func() error {
		if pr.produced != expected.UncompressedSize && expected.UncompressedSize >= 0 {
			r.failed = true
			return zipErr(CodeCorrupt, "extract")
		}
		if pr.crc.Sum32() != expected.CRC32 {
			r.failed = true
			return zipErr(CodeCorrupt, "extract")
		}
		return nil
	}
	return pr, nil
}

// fillFrom reads decoded bytes into buf, updating the CRC and produced
// count, and marks the extraction finished when the stream ends exactly.
func (r *Reader) fillFrom(pr *partialExtract, buf []byte) (int, error) {
	n := 0
	for n < len(buf) && !pr.finished {
		m, err := pr.r.Read(buf[n:])
		if m > 0 {
			pr.crc.Write(buf[n : n+m])
			pr.produced += int64(m)
			n += m
		}
		if err == io.EOF {
			pr.finished = true
			break
		}
		if err != nil {
			r.failed = true
			return n, mapDecodeErr(err)
		}
	}
	return n, nil
}

func (r *Reader) clearPartial(pr *partialExtract) {
	if r.partial == pr {
		r.partial = nil
	}
	if r.seq != nil {
		r.seq.extracted = true
	}
}

// mapDecodeErr classifies errors escaping the decode chain.
func mapDecodeErr(err error) error {
	var ce flate.CorruptInputError
	if errors.As(err, &ce) {
		return wrapErr(CodeCorrupt, "extract", err)
	}
	var ie flate.InternalError
	if errors.As(err, &ie) {
		return wrapErr(CodeInflateInternal, "extract", err)
	}
	var re *flate.ReadError
	if errors.As(err, &re) {
		err = re.Err
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return wrapErr(CodeCorrupt, "extract", err)
	}
	if code := AsCode(err); code != CodeNotInited {
		return err
	}
	return wrapErr(CodeRead, "extract", err)
}

// byteReaderFor gives the decompressor the byte-at-a-time interface it
// wants without buffering past the end of the compressed stream, which
// matters when the archive arrives through a pipe.
func byteReaderFor(r io.Reader) flate.Reader {
	if fr, ok := r.(flate.Reader); ok {
		return fr
	}
	return &oneByteReader{r: r}
}

type oneByteReader struct {
	r io.Reader
}

func (o *oneByteReader) Read(p []byte) (int, error) { return o.r.Read(p) }

func (o *oneByteReader) ReadByte() (byte, error) {
	if br, ok := o.r.(io.ByteReader); ok {
		return br.ReadByte()
	}
	var b [1]byte
	for {
		n, err := o.r.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// Close releases the archive. Close is idempotent.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.partial = nil
	if r.closer != nil {
		if err := r.closer.Close(); err != nil {
			return wrapErr(CodeRead, "close", err)
		}
	}
	return nil
}

// --- sequential (pipe) mode ---

// seqAdvanceTo walks local headers forward until index entries have been
// discovered or the central directory begins.
func (r *Reader) seqAdvanceTo(index int) error {
	for len(r.entries) <= index {
		if r.seq.done {
			return zipErr(CodeNotFound, "entry")
		}
		if err := r.seqNext(); err != nil {
			return err
		}
	}
	return nil
}

// seqNext consumes the rest of the current entry if needed, then reads
// the next local header.
func (r *Reader) seqNext() error {
	if n := len(r.entries); n > 0 && !r.seq.extracted {
		if err := r.seqSkipCurrent(); err != nil {
			return err
		}
	}
	r.seq.extracted = false

	var sig [4]byte
	if _, err := io.ReadFull(r.seq.br, sig[:]); err != nil {
		r.failed = true
		return wrapErr(CodeCorrupt, "entry", err)
	}
	b := readBuf(sig[:])
	switch b.uint32() {
	case fileHeaderSignature:
	case directoryHeaderSignature, directoryEndSignature:
		// No more local headers; the trailing directory is not needed in
		// sequential mode.
		r.seq.done = true
		return nil
	default:
		r.failed = true
		return zipErr(CodeCorrupt, "entry")
	}

	var lh [fileHeaderLen - 4]byte
	if _, err := io.ReadFull(r.seq.br, lh[:]); err != nil {
		r.failed = true
		return wrapErr(CodeCorrupt, "entry", err)
	}
	d := readBuf(lh[:])
	e := &fileEntry{headerOffset: -1}
	e.ReaderVersion = d.uint16()
	e.Flags = d.uint16()
	e.Method = d.uint16()
	dosTime := d.uint16()
	dosDate := d.uint16()
	e.CRC32 = d.uint32()
	e.CompressedSize = int64(d.uint32())
	e.UncompressedSize = int64(d.uint32())
	nameLen := int(d.uint16())
	extraLen := int(d.uint16())
	e.rawDosTime = dosTime
	if e.Flags&flagDataDescriptor != 0 {
		// The real values arrive in the data descriptor after the payload.
		e.CRC32 = 0
		e.CompressedSize = SizeUnknown
		e.UncompressedSize = SizeUnknown
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r.seq.br, name); err != nil {
		r.failed = true
		return wrapErr(CodeCorrupt, "entry", err)
	}
	e.Name = string(name)
	extra := make([]byte, extraLen)
	if _, err := io.ReadFull(r.seq.br, extra); err != nil {
		r.failed = true
		return wrapErr(CodeCorrupt, "entry", err)
	}
	e.Extra = extra
	e.Modified = msDosTimeToTime(dosDate, dosTime)
	e.parseExtra()
	if strings.HasSuffix(e.Name, "/") {
		e.ExternalAttrs |= msdosDir
	}
	r.entries = append(r.entries, e)
	return nil
}

// seqSkipCurrent discards the payload of the last discovered entry. An
// extraction left unfinished on that entry is drained through its existing
// decode chain, since the stream position is already mid-payload.
func (r *Reader) seqSkipCurrent() error {
	index := len(r.entries) - 1
	pr := r.partial
	if pr != nil && pr.index == index {
		r.partialDone[index] = true
		r.partial = nil
	} else {
		var err error
		pr, err = r.beginExtractSequential(index)
		if err != nil {
			return err
		}
	}
	buf := make([]byte, 32*1024)
	for !pr.finished {
		if _, err := r.fillFrom(pr, buf); err != nil {
			return err
		}
	}
	r.seq.extracted = true
	return pr.finish()
}

// beginExtractSequential builds the decode chain for the entry at the
// stream's current position. Only the most recently discovered entry is
// reachable, and only once.
func (r *Reader) beginExtractSequential(index int) (*partialExtract, error) {
	if err := r.seqAdvanceTo(index); err != nil {
		return nil, err
	}
	if index != len(r.entries)-1 || r.seq.extracted {
		return nil, zipErr(CodeSeek, "extract")
	}
	e := r.entries[index]
	if e.IsDir() {
		r.seq.extracted = true
		return &partialExtract{
			index:  index,
			r:      bytes.NewReader(nil),
			crc:    crc32.NewIEEE(),
			finish: func() error { return nil },
		}, nil
	}

	var raw io.Reader = r.seq.br
	csize := e.CompressedSize
	if csize >= 0 {
		raw = io.LimitReader(raw, csize)
	}
	pr, err := r.buildDecodeChain(index, &e.FileHeader, raw, csize, e.rawDosTime)
	if err != nil {
		return nil, err
	}
	if e.Flags&flagDataDescriptor != 0 {
		inner := pr.finish
		pr.finish = func() error {
			if err := r.seqReadDescriptor(e); err != nil {
				return err
			}
			return inner()
		}
	}
	// In sequential mode the sizes may only be known now that the entry
	// has been walked; expose them the way the directory would have.
	finishWithSizes := pr.finish
	pr.finish = func() error {
		if err := finishWithSizes(); err != nil {
			return err
		}
		if e.UncompressedSize < 0 {
			e.UncompressedSize = pr.produced
		}
		return nil
	}
	return pr, nil
}

// seqReadDescriptor consumes the data descriptor that follows a streamed
// entry and fills the entry's sizes from it. The signature word is
// optional in the wild; both layouts are accepted.
func (r *Reader) seqReadDescriptor(e *fileEntry) error {
	var first [4]byte
	if _, err := io.ReadFull(r.seq.br, first[:]); err != nil {
		r.failed = true
		return wrapErr(CodeCorrupt, "extract", err)
	}
	b := readBuf(first[:])
	crc := b.uint32()
	if crc == dataDescriptorSignature {
		var again [4]byte
		if _, err := io.ReadFull(r.seq.br, again[:]); err != nil {
			r.failed = true
			return wrapErr(CodeCorrupt, "extract", err)
		}
		a := readBuf(again[:])
		crc = a.uint32()
	}
	var rest [8]byte
	if _, err := io.ReadFull(r.seq.br, rest[:]); err != nil {
		r.failed = true
		return wrapErr(CodeCorrupt, "extract", err)
	}
	d := readBuf(rest[:])
	e.CRC32 = crc
	e.CompressedSize = int64(d.uint32())
	e.UncompressedSize = int64(d.uint32())
	return nil
}
