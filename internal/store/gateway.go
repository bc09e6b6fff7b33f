// Package store is the persistence gateway: durable client and file
// records behind gorm, with sqlite for single-node deployments and mysql
// where a shared server is wanted.
package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Gateway is the durable load/save surface the core depends on.
type Gateway interface {
	LoadClients() ([]ClientRecord, error)
	FindClient(id uuid.UUID) (*ClientRecord, error)
	FindClientByName(name string) (*ClientRecord, error)
	SaveClient(id uuid.UUID, name string, publicKey, aesKey []byte) error
	SaveFile(clientID uuid.UUID, fileName, path string, verified bool, size int64, modTime time.Time, crc uint32) error
	SetFileVerified(clientID uuid.UUID, fileName string, verified bool) error
	DeleteClient(id uuid.UUID) error
	DeleteFile(clientID uuid.UUID, fileName string) error
	ListFiles(clientID uuid.UUID) ([]FileRecord, error)
	FindFileByPath(path string) (*FileRecord, error)
	Counts() (clients, files int64, err error)
}

// Config selects the database backend.
type Config struct {
	Driver string // "sqlite" or "mysql"
	Path   string // sqlite file path
	Host   string
	Port   int
	User   string
	Pass   string
	Name   string
}

// Open connects the selected backend and migrates the schema.
func Open(cfg Config) (*DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.Path)
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Pass, cfg.Host, cfg.Port, cfg.Name)
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if err := gdb.AutoMigrate(&ClientRecord{}, &FileRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{
		driver:  cfg.Driver,
		clients: NewClientRepository(gdb),
		files:   NewFileRepository(gdb),
	}, nil
}

// DB implements Gateway over the gorm repositories.
type DB struct {
	driver  string
	clients *ClientRepository
	files   *FileRepository
}

func (d *DB) Driver() string {
	if d.driver == "" {
		return "sqlite"
	}
	return d.driver
}

func (d *DB) LoadClients() ([]ClientRecord, error) { return d.clients.All() }

func (d *DB) FindClient(id uuid.UUID) (*ClientRecord, error) {
	return d.clients.ByID(id.String())
}

func (d *DB) FindClientByName(name string) (*ClientRecord, error) {
	return d.clients.ByName(name)
}

func (d *DB) SaveClient(id uuid.UUID, name string, publicKey, aesKey []byte) error {
	return d.clients.Upsert(&ClientRecord{
		ID:        id.String(),
		Name:      name,
		PublicKey: publicKey,
		AESKey:    aesKey,
		LastSeen:  time.Now(),
	})
}

func (d *DB) SaveFile(clientID uuid.UUID, fileName, path string, verified bool, size int64, modTime time.Time, crc uint32) error {
	return d.files.Upsert(&FileRecord{
		ClientID: clientID.String(),
		FileName: fileName,
		PathName: path,
		Verified: verified,
		Size:     size,
		ModTime:  modTime,
		CRC:      crc,
	})
}

func (d *DB) SetFileVerified(clientID uuid.UUID, fileName string, verified bool) error {
	return d.files.SetVerified(clientID.String(), fileName, verified)
}

func (d *DB) DeleteClient(id uuid.UUID) error {
	if err := d.files.DeleteByClient(id.String()); err != nil {
		return err
	}
	return d.clients.Delete(id.String())
}

func (d *DB) DeleteFile(clientID uuid.UUID, fileName string) error {
	return d.files.Delete(clientID.String(), fileName)
}

func (d *DB) ListFiles(clientID uuid.UUID) ([]FileRecord, error) {
	return d.files.ByClient(clientID.String())
}

func (d *DB) FindFileByPath(path string) (*FileRecord, error) {
	return d.files.ByPath(path)
}

func (d *DB) Counts() (int64, int64, error) {
	clients, err := d.clients.Count()
	if err != nil {
		return 0, 0, err
	}
	files, err := d.files.Count()
	if err != nil {
		return 0, 0, err
	}
	return clients, files, nil
}
