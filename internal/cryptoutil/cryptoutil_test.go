package cryptoutil

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

func TestImportExportRoundTrip(t *testing.T) {
	priv := testKey(t)
	field, err := ExportPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(field) != PublicKeyFieldLen {
		t.Fatalf("field width %d", len(field))
	}
	pub, err := Suite{}.ImportPublicKey(field)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if pub.N.Cmp(priv.PublicKey.N) != 0 || pub.E != priv.PublicKey.E {
		t.Fatal("imported key differs from exported key")
	}
}

func TestImportRejectsGarbage(t *testing.T) {
	var s Suite
	if _, err := s.ImportPublicKey(make([]byte, 10)); err == nil {
		t.Fatal("short field accepted")
	}
	junk := bytes.Repeat([]byte{0xAB}, PublicKeyFieldLen)
	if _, err := s.ImportPublicKey(junk); err == nil {
		t.Fatal("non-DER field accepted")
	}
	if _, err := s.ImportPublicKey(make([]byte, PublicKeyFieldLen)); err == nil {
		t.Fatal("all-zero field accepted")
	}
}

func TestImportRejectsWrongModulus(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 512)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	field, err := ExportPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := (Suite{}).ImportPublicKey(field); err == nil {
		t.Fatal("512-bit key accepted")
	}
}

func TestWrapKeyDecryptsToSessionKey(t *testing.T) {
	var s Suite
	priv := testKey(t)
	key, err := s.NewSessionKey()
	if err != nil {
		t.Fatalf("session key: %v", err)
	}
	if len(key) != SessionKeyLen {
		t.Fatalf("session key %d bytes", len(key))
	}
	wrapped, err := s.WrapKey(&priv.PublicKey, key)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	got, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatal("unwrapped key differs")
	}
}

func TestAESCBCRoundTrip(t *testing.T) {
	var s Suite
	key, _ := s.NewSessionKey()
	for _, n := range []int{0, 1, 15, 16, 17, 4096} {
		plain := bytes.Repeat([]byte{0x5A}, n)
		ct, err := s.Encrypt(key, plain)
		if err != nil {
			t.Fatalf("encrypt %d bytes: %v", n, err)
		}
		got, err := s.Decrypt(key, ct)
		if err != nil {
			t.Fatalf("decrypt %d bytes: %v", n, err)
		}
		if !bytes.Equal(got, plain) {
			t.Fatalf("round trip mismatch at %d bytes", n)
		}
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	var s Suite
	key, _ := s.NewSessionKey()
	ct, err := s.Encrypt(key, []byte("chunk payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := s.Decrypt(key, ct[:len(ct)-1]); err == nil {
		t.Fatal("truncated ciphertext accepted")
	}
	other, _ := s.NewSessionKey()
	if out, err := s.Decrypt(other, ct); err == nil && bytes.Equal(out, []byte("chunk payload")) {
		t.Fatal("wrong key produced original plaintext")
	}
}
