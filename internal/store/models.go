package store

import "time"

// ClientRecord is the durable form of a registered client. The in-memory
// session may be evicted while this record lives on.
type ClientRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"uniqueIndex;size:100;not null"`
	PublicKey []byte `gorm:"size:160"`
	AESKey    []byte `gorm:"size:32"`
	LastSeen  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FileRecord is one stored backup file, keyed by (client id, file name).
type FileRecord struct {
	ID        uint   `gorm:"primaryKey"`
	ClientID  string `gorm:"size:36;index;uniqueIndex:idx_client_file"`
	FileName  string `gorm:"size:250;uniqueIndex:idx_client_file"`
	PathName  string `gorm:"size:512;index"`
	Verified  bool
	Size      int64
	ModTime   time.Time
	CRC       uint32
	CreatedAt time.Time
	UpdatedAt time.Time
}
