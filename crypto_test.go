package ziputils

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeystreamInverse(t *testing.T) {
	plain := []byte("any payload at all, of any length, even this one")

	enc := newCryptoKeys([]byte("password"))
	cipher := make([]byte, len(plain))
	for i, b := range plain {
		cipher[i] = enc.encryptByte(b)
	}
	require.False(t, bytes.Equal(plain, cipher))

	dec := newCryptoKeys([]byte("password"))
	got := make([]byte, len(cipher))
	for i, b := range cipher {
		got[i] = dec.decryptByte(b)
	}
	require.Equal(t, plain, got)
}

func TestEncryptHeaderValidator(t *testing.T) {
	rnd := rand.New(rand.NewSource(9))
	const validator = 0xA7

	enc := newCryptoKeys([]byte("open sesame"))
	hdr := makeEncryptHeader(&enc, validator, rnd)

	dec := newCryptoKeys([]byte("open sesame"))
	require.True(t, checkDecryptHeader(&dec, hdr[:], validator))

	// A wrong password fails the validator for all but ~1/256 of headers;
	// of 32 fresh headers more than 24 must be rejected.
	rejected := 0
	for i := 0; i < 32; i++ {
		enc := newCryptoKeys([]byte("open sesame"))
		hdr := makeEncryptHeader(&enc, validator, rnd)
		bad := newCryptoKeys([]byte("wrong"))
		if !checkDecryptHeader(&bad, hdr[:], validator) {
			rejected++
		}
	}
	require.Greater(t, rejected, 24)
}

func TestKeysDiffer(t *testing.T) {
	a := newCryptoKeys([]byte("a"))
	b := newCryptoKeys([]byte("b"))
	require.NotEqual(t, a, b)
}
