package checksum

import (
	"bytes"
	"testing"
)

// Known cksum values, checked against coreutils `cksum`.
func TestKnownVectors(t *testing.T) {
	cases := []struct {
		in   string
		want uint32
	}{
		{"", 4294967295},
		{"a", 1220704766},
		{"abc", 1219131554},
		{"123456789", 930766865},
		{"hello world\n", 3733384285},
	}
	for _, tc := range cases {
		if got := Sum([]byte(tc.in)); got != tc.want {
			t.Errorf("Sum(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestStreamingMatchesOneShot(t *testing.T) {
	data := bytes.Repeat([]byte("vaultguard"), 4096)
	d := New()
	for i := 0; i < len(data); i += 1000 {
		end := i + 1000
		if end > len(data) {
			end = len(data)
		}
		d.Write(data[i:end])
	}
	if d.Sum32() != Sum(data) {
		t.Fatalf("streamed CRC %d != one-shot %d", d.Sum32(), Sum(data))
	}
}

func TestSum32DoesNotConsume(t *testing.T) {
	d := New()
	d.Write([]byte("abc"))
	first := d.Sum32()
	if second := d.Sum32(); second != first {
		t.Fatalf("repeated Sum32 differs: %d then %d", first, second)
	}
	d.Write([]byte("def"))
	if d.Sum32() != Sum([]byte("abcdef")) {
		t.Fatal("digest corrupted by finalization")
	}
}

func TestLengthFolding(t *testing.T) {
	// Same bytes, different lengths of leading data must disagree even
	// when the appended byte is the initial accumulator value.
	a := Sum([]byte{0})
	b := Sum([]byte{0, 0})
	if a == b {
		t.Fatal("length folding not applied")
	}
}
