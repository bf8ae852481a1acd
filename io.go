package ziputils

import (
	"io"
	"os"
)

// The archive core never touches the filesystem except through the
// adaptors in this file. Three backends exist on each side: files and
// memory buffers support random access, pipes are forward-only. Whether a
// sink supports patching decides whether entry sizes are back-patched
// into the local header or follow the payload in a data descriptor.

// patcher is the optional sink ability to rewrite bytes that were already
// written, without moving the append position.
type patcher interface {
	PatchAt(p []byte, off int64) error
}

// truncater is the optional sink ability to discard everything at and
// after off, abandoning a partially written entry.
type truncater interface {
	TruncateTo(off int64) error
}

// sizedReaderAt is a random-access source of known length.
type sizedReaderAt interface {
	io.ReaderAt
	Size() int64
}

// memSink writes into a memory buffer with a hard upper bound. The buffer
// is either supplied by the caller (fixed) or owned and grown on demand up
// to max.
type memSink struct {
	buf   []byte
	n     int
	max   int
	fixed bool
}

func newMemSink(buf []byte) *memSink {
	return &memSink{buf: buf, max: len(buf), fixed: true}
}

func newOwnedMemSink(max int) *memSink {
	return &memSink{max: max}
}

func (m *memSink) Write(p []byte) (int, error) {
	room := m.max - m.n
	if room <= 0 {
		return 0, zipErr(CodeWrite, "write")
	}
	short := false
	if len(p) > room {
		p = p[:room]
		short = true
	}
	if !m.fixed && m.n+len(p) > len(m.buf) {
		grown := make([]byte, m.n+len(p))
		copy(grown, m.buf[:m.n])
		m.buf = grown
	}
	n := copy(m.buf[m.n:m.n+len(p)], p)
	m.n += n
	if short {
		return n, zipErr(CodeWrite, "write")
	}
	return n, nil
}

func (m *memSink) PatchAt(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > int64(m.n) {
		return zipErr(CodeSeek, "patch")
	}
	copy(m.buf[off:], p)
	return nil
}

func (m *memSink) TruncateTo(off int64) error {
	if off < 0 || off > int64(m.n) {
		return zipErr(CodeSeek, "truncate")
	}
	m.n = int(off)
	return nil
}

func (m *memSink) Bytes() []byte { return m.buf[:m.n] }

// fileSink adapts an os.File. Write appends at the file's position;
// PatchAt rewrites in place.
type fileSink struct {
	f *os.File
}

func (s *fileSink) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	if err != nil {
		return n, wrapErr(CodeWrite, "write", err)
	}
	return n, nil
}

func (s *fileSink) PatchAt(p []byte, off int64) error {
	if _, err := s.f.WriteAt(p, off); err != nil {
		return wrapErr(CodeSeek, "patch", err)
	}
	return nil
}

func (s *fileSink) TruncateTo(off int64) error {
	if _, err := s.f.Seek(off, io.SeekStart); err != nil {
		return wrapErr(CodeSeek, "truncate", err)
	}
	if err := s.f.Truncate(off); err != nil {
		return wrapErr(CodeWrite, "truncate", err)
	}
	return nil
}

func (s *fileSink) Close() error { return s.f.Close() }

// pipeSink adapts a forward-only writer. No patching, so entries whose
// sizes are unknown when their header is written carry data descriptors.
type pipeSink struct {
	w io.Writer
}

func (s *pipeSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		return n, wrapErr(CodeWrite, "write", err)
	}
	return n, nil
}

// fileSource is a random-access reader over an open file.
type fileSource struct {
	f    *os.File
	size int64
}

func newFileSource(f *os.File) (*fileSource, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, wrapErr(CodeRead, "open", err)
	}
	return &fileSource{f: f, size: st.Size()}, nil
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *fileSource) Size() int64 { return s.size }

func (s *fileSource) Close() error { return s.f.Close() }

// countWriter tracks how many bytes have passed through to the sink; the
// count is the archive's current append offset.
type countWriter struct {
	w     io.Writer
	count int64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.count += int64(n)
	return n, err
}
