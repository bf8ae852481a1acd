/*
Package ziputils reads and writes ZIP archives in the PKWARE APPNOTE 2.0
format, with its own DEFLATE implementation and support for the legacy
"traditional" stream encryption. Archives it produces are readable by any
unzipper that understands DEFLATE and traditional encryption, and it reads
archives produced by other zippers in turn.

An archive is created into a file, a bounded memory block or a
forward-only stream:

	w, err := ziputils.CreateZip("out.zip", "")
	err = w.Add("notes.txt", data)
	err = w.AddFolder("img/")
	err = w.AddFile("img/logo.png", "/tmp/logo.png")
	err = w.Close()

and opened back the same three ways:

	r, err := ziputils.OpenZip("out.zip", "")
	idx, entry, err := r.Find("notes.txt", true)
	err = r.ExtractToWriter(idx, dst)
	err = r.Close()

Sinks and sources that cannot seek change the on-disk shape slightly:
entry sizes that are unknown when a local header is written follow the
payload in a data descriptor, and archives arriving through a pipe can
only be walked front to back.

This package does not support ZIP64, AES encryption or disk spanning.
*/
package ziputils
