package ziputils

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// Archives written to and read from pipes exercise the forward-only
// paths: data descriptors on the way out, sequential local-header walking
// on the way in.

func TestPipeRoundTrip(t *testing.T) {
	entries := testEntries()

	pr, pw := io.Pipe()
	var g errgroup.Group
	g.Go(func() error {
		w := CreateZipWriter(pw, "")
		for _, e := range entries {
			if err := w.AddWithOptions(e.name, e.data, &AddOptions{Method: e.method, Modified: testTime}); err != nil {
				pw.CloseWithError(err)
				return err
			}
		}
		if err := w.Close(); err != nil {
			pw.CloseWithError(err)
			return err
		}
		return pw.Close()
	})

	r, err := OpenZipReader(pr, "")
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, -1, r.Count(), "count is unknown until the stream ends")

	for i, e := range entries {
		fh, err := r.Entry(i)
		require.NoError(t, err)
		require.Equal(t, e.name, fh.Name)
		if e.method == Deflate {
			// Compressed sizes travel behind the payload when writing
			// through a pipe.
			require.Equal(t, int64(SizeUnknown), fh.UncompressedSize)
		} else {
			// Stored in-memory payloads had known sizes up front.
			require.Equal(t, int64(len(e.data)), fh.UncompressedSize)
		}

		var buf bytes.Buffer
		require.NoError(t, r.ExtractToWriter(i, &buf))
		require.Equal(t, e.data, append([]byte(nil), buf.Bytes()...), e.name)
		require.Equal(t, int64(len(e.data)), fh.UncompressedSize, "descriptor fills the sizes in")
	}

	_, err = r.Entry(len(entries))
	require.Equal(t, CodeNotFound, AsCode(err))
	require.Equal(t, len(entries), r.Count())
	_, err = io.Copy(io.Discard, pr)
	require.NoError(t, err)
	require.NoError(t, g.Wait())
}

func TestPipeSkipEntries(t *testing.T) {
	entries := testEntries()

	pr, pw := io.Pipe()
	var g errgroup.Group
	g.Go(func() error {
		w := CreateZipWriter(pw, "")
		for _, e := range entries {
			if err := w.Add(e.name, e.data); err != nil {
				pw.CloseWithError(err)
				return err
			}
		}
		if err := w.Close(); err != nil {
			pw.CloseWithError(err)
			return err
		}
		return pw.Close()
	})

	r, err := OpenZipReader(pr, "")
	require.NoError(t, err)
	defer r.Close()

	// Jumping straight to the third entry skips the first two payloads.
	var buf bytes.Buffer
	require.NoError(t, r.ExtractToWriter(2, &buf))
	require.Equal(t, entries[2].data, buf.Bytes())

	// Going backwards on a pipe is a seek error.
	err = r.ExtractToWriter(0, io.Discard)
	require.Equal(t, CodeSeek, AsCode(err))
	_, err = io.Copy(io.Discard, pr)
	require.NoError(t, err)
	require.NoError(t, g.Wait())
}

func TestPipeEncrypted(t *testing.T) {
	payload := bytes.Repeat([]byte("sixteen byte song"), 3000)

	pr, pw := io.Pipe()
	var g errgroup.Group
	g.Go(func() error {
		w := CreateZipWriter(pw, "s3cret")
		if err := w.Add("song.txt", payload); err != nil {
			pw.CloseWithError(err)
			return err
		}
		if err := w.Close(); err != nil {
			pw.CloseWithError(err)
			return err
		}
		return pw.Close()
	})

	r, err := OpenZipReader(pr, "s3cret")
	require.NoError(t, err)
	defer r.Close()
	var buf bytes.Buffer
	require.NoError(t, r.ExtractToWriter(0, &buf))
	require.Equal(t, payload, buf.Bytes())
	_, err = io.Copy(io.Discard, pr)
	require.NoError(t, err)
	require.NoError(t, g.Wait())
}

func TestPipeEncryptedWrongPassword(t *testing.T) {
	var sink bytes.Buffer
	w := CreateZipWriter(&sink, "correct")
	require.NoError(t, w.Add("x.bin", []byte("guarded payload")))
	require.NoError(t, w.Close())

	r, err := OpenZipReader(bytes.NewReader(sink.Bytes()), "wrong")
	require.NoError(t, err)
	defer r.Close()
	err = r.ExtractToWriter(0, io.Discard)
	require.Error(t, err)
	require.Contains(t, []Code{CodePassword, CodeCorrupt, CodeInflateInternal}, AsCode(err))
}

func TestPipeArchiveReadableByStdlib(t *testing.T) {
	entries := testEntries()

	var sink bytes.Buffer
	w := CreateZipWriter(&sink, "")
	for _, e := range entries {
		require.NoError(t, w.AddWithOptions(e.name, e.data, &AddOptions{Method: e.method, Modified: testTime}))
	}
	require.NoError(t, w.Close())

	// The stdlib honors the data descriptors the pipe forced us to emit.
	zr, err := zip.NewReader(bytes.NewReader(sink.Bytes()), int64(sink.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, len(entries))
	for i, e := range entries {
		rc, err := zr.File[i].Open()
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		require.Equal(t, e.data, append([]byte(nil), got...), e.name)
	}
}

func TestPipeFolderEntries(t *testing.T) {
	var sink bytes.Buffer
	w := CreateZipWriter(&sink, "")
	require.NoError(t, w.AddFolder("d"))
	require.NoError(t, w.Add("d/file.txt", []byte("in the folder")))
	require.NoError(t, w.Close())

	r, err := OpenZipReader(bytes.NewReader(sink.Bytes()), "")
	require.NoError(t, err)
	defer r.Close()

	fh, err := r.Entry(0)
	require.NoError(t, err)
	require.True(t, fh.IsDir())
	require.Equal(t, "d/", fh.Name)

	var buf bytes.Buffer
	require.NoError(t, r.ExtractToWriter(1, &buf))
	require.Equal(t, "in the folder", buf.String())
}
