package ziputils_test

import (
	"bytes"
	"fmt"
	"log"

	ziputils "github.com/Source-Authors/zip-utils"
)

func Example() {
	// Build a small archive in memory.
	w, err := ziputils.CreateZipMemory(1<<20, "")
	if err != nil {
		log.Fatal(err)
	}
	if err := w.AddFolder("docs"); err != nil {
		log.Fatal(err)
	}
	if err := w.Add("docs/readme.txt", []byte("Rabbits, guinea pigs, gophers, marsupial rats, and quolls.\n")); err != nil {
		log.Fatal(err)
	}
	archive, err := w.Memory()
	if err != nil {
		log.Fatal(err)
	}

	// And read it back.
	r, err := ziputils.OpenZipMemory(archive, "")
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()

	idx, entry, err := r.Find("DOCS/README.TXT", true)
	if err != nil {
		log.Fatal(err)
	}
	var buf bytes.Buffer
	if err := r.ExtractToWriter(idx, &buf); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%d entries\n", r.Count())
	fmt.Printf("%s: %q\n", entry.Name, buf.String()[:7])
	// Output:
	// 2 entries
	// docs/readme.txt: "Rabbits"
}
