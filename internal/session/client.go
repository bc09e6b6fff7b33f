// Package session holds the in-memory state of registered clients: their
// identity, handshake keys and in-flight chunked uploads. The registry
// lock guards only the id/name indexes; each Client carries its own lock
// so key material and transfer buffers are never mutated under the
// registry lock.
package session

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vaultguard/internal/checksum"
)

// State tracks a client's position in the handshake lifecycle.
type State string

const (
	StateAwaitingKey State = "awaiting_key_exchange"
	StateActive      State = "active"
)

var (
	ErrNoSessionKey     = errors.New("session: no session key established")
	ErrChunkOutOfOrder  = errors.New("session: chunk out of order")
	ErrTransferOverflow = errors.New("session: transfer exceeds declared size")
	ErrFileTooLarge     = errors.New("session: declared size exceeds limit")
	ErrSizeMismatch     = errors.New("session: final size does not match declared size")
)

// PartialTransfer accumulates one chunked upload.
type PartialTransfer struct {
	Filename  string
	Declared  uint64
	buf       []byte
	nextChunk uint16
	lastChunk time.Time
}

// Bytes returns how much has accumulated so far.
func (t *PartialTransfer) Bytes() int { return len(t.buf) }

// Assembled is a finalized upload ready for persistence.
type Assembled struct {
	Filename string
	Data     []byte
	CRC      uint32
}

// Client is one registered identity and its session state.
type Client struct {
	ID   uuid.UUID
	Name string

	mu        sync.Mutex
	state     State
	publicKey *rsa.PublicKey
	keyField  []byte // raw wire key field, kept for persistence
	aesKey    []byte
	lastSeen  time.Time
	transfers map[string]*PartialTransfer
}

// NewClient returns a client in the awaiting-key-exchange state.
func NewClient(id uuid.UUID, name string) *Client {
	return &Client{
		ID:        id,
		Name:      name,
		state:     StateAwaitingKey,
		lastSeen:  time.Now(),
		transfers: make(map[string]*PartialTransfer),
	}
}

// Touch records activity now.
func (c *Client) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// LastSeen returns the most recent activity timestamp.
func (c *Client) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetPublicKey stores the imported key and its raw wire field.
func (c *Client) SetPublicKey(pub *rsa.PublicKey, field []byte) {
	c.mu.Lock()
	c.publicKey = pub
	c.keyField = append([]byte(nil), field...)
	c.mu.Unlock()
}

// PublicKey returns the stored key, if any.
func (c *Client) PublicKey() (*rsa.PublicKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publicKey, c.publicKey != nil
}

// PublicKeyField returns the raw wire key field for persistence.
func (c *Client) PublicKeyField() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.keyField...)
}

// SetSessionKey installs a fresh AES key and marks the client active.
// A key is only ever set after a successful key-exchange response is
// prepared; reconnects replace it, never reuse it.
func (c *Client) SetSessionKey(key []byte) {
	c.mu.Lock()
	c.aesKey = append([]byte(nil), key...)
	c.state = StateActive
	c.mu.Unlock()
}

// SessionKey returns the current AES key.
func (c *Client) SessionKey() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.aesKey == nil {
		return nil, ErrNoSessionKey
	}
	return append([]byte(nil), c.aesKey...), nil
}

// AppendChunk folds one decrypted chunk into the named transfer. The first
// chunk (number 1) creates the transfer, replacing any stale one under the
// same filename so a retried upload starts from zero. When the last chunk
// lands and the byte count matches the declared size, the buffer finalizes
// with its CRC and the transfer entry is removed.
func (c *Client) AppendChunk(filename string, chunkNum, totalChunks uint16, declared uint64, plain []byte, maxFileSize uint64) (*Assembled, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if declared > maxFileSize {
		delete(c.transfers, filename)
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, declared)
	}

	t, ok := c.transfers[filename]
	if chunkNum == 1 {
		t = &PartialTransfer{Filename: filename, Declared: declared}
		c.transfers[filename] = t
		t.nextChunk = 1
	} else if !ok {
		return nil, fmt.Errorf("%w: chunk %d with no transfer", ErrChunkOutOfOrder, chunkNum)
	}
	if chunkNum != t.nextChunk {
		delete(c.transfers, filename)
		return nil, fmt.Errorf("%w: got %d, want %d", ErrChunkOutOfOrder, chunkNum, t.nextChunk)
	}
	if uint64(len(t.buf))+uint64(len(plain)) > t.Declared {
		delete(c.transfers, filename)
		return nil, fmt.Errorf("%w: %d + %d > %d", ErrTransferOverflow, len(t.buf), len(plain), t.Declared)
	}

	t.buf = append(t.buf, plain...)
	t.nextChunk = chunkNum + 1
	t.lastChunk = time.Now()

	if chunkNum != totalChunks {
		return nil, nil
	}
	if uint64(len(t.buf)) != t.Declared {
		delete(c.transfers, filename)
		return nil, fmt.Errorf("%w: have %d, declared %d", ErrSizeMismatch, len(t.buf), t.Declared)
	}
	delete(c.transfers, filename)
	return &Assembled{Filename: filename, Data: t.buf, CRC: checksum.Sum(t.buf)}, nil
}

// DropTransfer discards an in-flight upload, if present.
func (c *Client) DropTransfer(filename string) {
	c.mu.Lock()
	delete(c.transfers, filename)
	c.mu.Unlock()
}

// TransferCount returns the number of in-flight uploads.
func (c *Client) TransferCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transfers)
}

// PurgeStaleTransfers discards transfers whose last chunk is older than
// the deadline and reports how many were dropped.
func (c *Client) PurgeStaleTransfers(deadline time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for name, t := range c.transfers {
		if t.lastChunk.Before(deadline) {
			delete(c.transfers, name)
			n++
		}
	}
	return n
}
