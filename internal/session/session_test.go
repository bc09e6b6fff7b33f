package session

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"vaultguard/internal/checksum"
)

const testMaxFile = 64 * 1024 * 1024

func activeClient() *Client {
	c := NewClient(uuid.New(), "alice")
	c.SetSessionKey(make([]byte, 32))
	return c
}

func TestConcurrentRegisterSameName(t *testing.T) {
	const n = 32
	r := NewRegistry()
	var (
		wg       sync.WaitGroup
		okCount  int32
		mu       sync.Mutex
		failures int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Register("alice")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				okCount++
			} else if errors.Is(err, ErrNameTaken) {
				failures++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if okCount != 1 || failures != n-1 {
		t.Fatalf("got %d successes, %d conflicts; want 1 and %d", okCount, failures, n-1)
	}
	if r.Len() != 1 {
		t.Fatalf("registry holds %d clients", r.Len())
	}
}

func TestRegisterDistinctNames(t *testing.T) {
	r := NewRegistry()
	a, err := r.Register("alice")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Register("bob")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Fatal("duplicate ids assigned")
	}
	if got, ok := r.GetByName("bob"); !ok || got != b {
		t.Fatal("name index inconsistent")
	}
	if !r.Remove(a.ID) {
		t.Fatal("remove failed")
	}
	if _, ok := r.GetByName("alice"); ok {
		t.Fatal("name index kept evicted client")
	}
}

func TestReassemblyRoundTrip(t *testing.T) {
	c := activeClient()
	src := bytes.Repeat([]byte("0123456789abcdef"), 2048)
	third := len(src) / 3
	parts := [][]byte{src[:third], src[third : 2*third], src[2*third:]}

	for i, part := range parts {
		got, err := c.AppendChunk("data.bin", uint16(i+1), 3, uint64(len(src)), part, testMaxFile)
		if err != nil {
			t.Fatalf("chunk %d: %v", i+1, err)
		}
		if i < 2 && got != nil {
			t.Fatalf("finalized after chunk %d", i+1)
		}
		if i == 2 {
			if got == nil {
				t.Fatal("last chunk did not finalize")
			}
			if !bytes.Equal(got.Data, src) {
				t.Fatal("assembled bytes differ from source")
			}
			if got.CRC != checksum.Sum(src) {
				t.Fatal("CRC does not match reference")
			}
		}
	}
	if c.TransferCount() != 0 {
		t.Fatal("transfer entry not removed after finalize")
	}
}

func TestDroppedChunkNeverFinalizes(t *testing.T) {
	c := activeClient()
	src := make([]byte, 3000)
	if _, err := c.AppendChunk("gap.bin", 1, 3, 3000, src[:1000], testMaxFile); err != nil {
		t.Fatal(err)
	}
	// Chunk 2 lost; chunk 3 arrives out of order.
	got, err := c.AppendChunk("gap.bin", 3, 3, 3000, src[2000:], testMaxFile)
	if got != nil {
		t.Fatal("finalized with a missing chunk")
	}
	if !errors.Is(err, ErrChunkOutOfOrder) {
		t.Fatalf("want out-of-order error, got %v", err)
	}
	if c.TransferCount() != 0 {
		t.Fatal("broken transfer not discarded")
	}
}

func TestOverflowAborts(t *testing.T) {
	c := activeClient()
	if _, err := c.AppendChunk("big.bin", 1, 2, 10, make([]byte, 11), testMaxFile); !errors.Is(err, ErrTransferOverflow) {
		t.Fatalf("want overflow error, got %v", err)
	}
	if _, err := c.AppendChunk("huge.bin", 1, 1, testMaxFile+1, nil, testMaxFile); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("want size-limit error, got %v", err)
	}
}

func TestRetryRestartsFromZero(t *testing.T) {
	c := activeClient()
	if _, err := c.AppendChunk("f.bin", 1, 2, 20, make([]byte, 10), testMaxFile); err != nil {
		t.Fatal(err)
	}
	// A fresh chunk 1 replaces the half-done transfer.
	got, err := c.AppendChunk("f.bin", 1, 1, 5, []byte("hello"), testMaxFile)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !bytes.Equal(got.Data, []byte("hello")) {
		t.Fatal("restarted upload kept residual bytes")
	}
}

func TestPurgeStaleTransfers(t *testing.T) {
	c := activeClient()
	if _, err := c.AppendChunk("old.bin", 1, 2, 100, make([]byte, 10), testMaxFile); err != nil {
		t.Fatal(err)
	}
	if n := c.PurgeStaleTransfers(time.Now().Add(-time.Minute)); n != 0 {
		t.Fatalf("fresh transfer purged (%d)", n)
	}
	if n := c.PurgeStaleTransfers(time.Now().Add(time.Minute)); n != 1 {
		t.Fatalf("stale transfer survived (purged %d)", n)
	}
	// A new upload of the same filename starts from zero bytes.
	got, err := c.AppendChunk("old.bin", 1, 1, 3, []byte("abc"), testMaxFile)
	if err != nil || got == nil {
		t.Fatalf("restart after purge failed: %v", err)
	}
	if !bytes.Equal(got.Data, []byte("abc")) {
		t.Fatal("residual data after purge")
	}
}

func TestEvictIdle(t *testing.T) {
	r := NewRegistry()
	idle, _ := r.Register("idle")
	fresh, _ := r.Register("fresh")

	// Backdate the idle client's activity.
	idle.mu.Lock()
	idle.lastSeen = time.Now().Add(-time.Hour)
	idle.mu.Unlock()
	fresh.Touch()

	evicted := r.EvictIdle(time.Now().Add(-10 * time.Minute))
	if len(evicted) != 1 || evicted[0] != idle {
		t.Fatalf("evicted %d clients", len(evicted))
	}
	if _, ok := r.Get(idle.ID); ok {
		t.Fatal("idle client still present")
	}
	if _, ok := r.Get(fresh.ID); !ok {
		t.Fatal("fresh client evicted")
	}
}

func TestSessionKeyLifecycle(t *testing.T) {
	c := NewClient(uuid.New(), "carol")
	if c.State() != StateAwaitingKey {
		t.Fatalf("initial state %q", c.State())
	}
	if _, err := c.SessionKey(); !errors.Is(err, ErrNoSessionKey) {
		t.Fatal("session key available before handshake")
	}
	c.SetSessionKey([]byte("0123456789abcdef0123456789abcdef"))
	if c.State() != StateActive {
		t.Fatalf("state after key exchange %q", c.State())
	}
	k1, _ := c.SessionKey()
	c.SetSessionKey([]byte("fedcba9876543210fedcba9876543210"))
	k2, _ := c.SessionKey()
	if bytes.Equal(k1, k2) {
		t.Fatal("reconnect reused the previous session key")
	}
}
