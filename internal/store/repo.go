package store

import (
	"errors"

	"gorm.io/gorm"
)

type ClientRepository struct{ db *gorm.DB }

func NewClientRepository(db *gorm.DB) *ClientRepository { return &ClientRepository{db: db} }

func (r *ClientRepository) All() ([]ClientRecord, error) {
	var out []ClientRecord
	if err := r.db.Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ClientRepository) Upsert(rec *ClientRecord) error {
	var existing ClientRecord
	if err := r.db.Where("id = ?", rec.ID).First(&existing).Error; err == nil {
		rec.CreatedAt = existing.CreatedAt
		return r.db.Save(rec).Error
	}
	return r.db.Create(rec).Error
}

func (r *ClientRepository) ByID(id string) (*ClientRecord, error) {
	var rec ClientRecord
	err := r.db.Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ClientRepository) ByName(name string) (*ClientRecord, error) {
	var rec ClientRecord
	err := r.db.Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ClientRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&ClientRecord{}).Error
}

func (r *ClientRepository) Count() (int64, error) {
	var n int64
	err := r.db.Model(&ClientRecord{}).Count(&n).Error
	return n, err
}

type FileRepository struct{ db *gorm.DB }

func NewFileRepository(db *gorm.DB) *FileRepository { return &FileRepository{db: db} }

func (r *FileRepository) Upsert(rec *FileRecord) error {
	var existing FileRecord
	err := r.db.Where("client_id = ? AND file_name = ?", rec.ClientID, rec.FileName).First(&existing).Error
	if err == nil {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		return r.db.Save(rec).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return r.db.Create(rec).Error
}

func (r *FileRepository) ByClient(clientID string) ([]FileRecord, error) {
	var out []FileRecord
	if err := r.db.Where("client_id = ?", clientID).Order("file_name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *FileRepository) ByPath(path string) (*FileRecord, error) {
	var rec FileRecord
	err := r.db.Where("path_name = ?", path).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *FileRepository) SetVerified(clientID, fileName string, verified bool) error {
	return r.db.Model(&FileRecord{}).
		Where("client_id = ? AND file_name = ?", clientID, fileName).
		Update("verified", verified).Error
}

func (r *FileRepository) Delete(clientID, fileName string) error {
	return r.db.Where("client_id = ? AND file_name = ?", clientID, fileName).Delete(&FileRecord{}).Error
}

func (r *FileRepository) DeleteByClient(clientID string) error {
	return r.db.Where("client_id = ?", clientID).Delete(&FileRecord{}).Error
}

func (r *FileRepository) Count() (int64, error) {
	var n int64
	err := r.db.Model(&FileRecord{}).Count(&n).Error
	return n, err
}
