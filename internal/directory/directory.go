// Package directory stores document title/owner metadata, separate
// from the per-document OT file store: it's the lookup table a client
// uses to resolve a human-facing title to the document ID DocComplex
// opens. Grounded on store/mysql_gorm.go (gorm.Open over the mysql
// driver) and store/document_store.go (title/owner CRUD), adapted from
// database/sql to gorm so both teacher dependencies (the driver and the
// ORM) get exercised instead of just one.
package directory

import (
	"context"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"bayou/internal/errs"
)

// DocumentRecord is one row of the document directory.
type DocumentRecord struct {
	DocId     string `gorm:"primaryKey;column:doc_id"`
	OwnerId   string `gorm:"column:owner_id;index"`
	Title     string `gorm:"column:title"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (DocumentRecord) TableName() string { return "documents" }

// Directory is the gorm-backed store for DocumentRecord.
type Directory struct {
	db *gorm.DB
}

// Open connects to dsn and ensures the documents table exists.
func Open(dsn string) (*Directory, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errs.Wrap(errs.TransactionAborted, err, "directory: connect")
	}
	if err := db.AutoMigrate(&DocumentRecord{}); err != nil {
		return nil, errs.Wrap(errs.TransactionAborted, err, "directory: migrate")
	}
	return &Directory{db: db}, nil
}

// Create inserts a new document record; fails path_not_empty if docId
// is already registered.
func (d *Directory) Create(ctx context.Context, docId, ownerId, title string) error {
	rec := DocumentRecord{DocId: docId, OwnerId: ownerId, Title: title}
	if err := d.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errs.Wrap(errs.PathNotEmpty, err, "directory: create %s", docId)
	}
	return nil
}

// Lookup resolves a title to its document ID for a given owner.
func (d *Directory) Lookup(ctx context.Context, ownerId, title string) (string, error) {
	var rec DocumentRecord
	err := d.db.WithContext(ctx).Where("owner_id = ? AND title = ?", ownerId, title).First(&rec).Error
	if err != nil {
		return "", errs.Wrap(errs.RevisionNotAvailable, err, "directory: lookup %s/%s", ownerId, title)
	}
	return rec.DocId, nil
}

// ListByOwner returns every document owned by ownerId.
func (d *Directory) ListByOwner(ctx context.Context, ownerId string) ([]DocumentRecord, error) {
	var recs []DocumentRecord
	if err := d.db.WithContext(ctx).Where("owner_id = ?", ownerId).Find(&recs).Error; err != nil {
		return nil, errs.Wrap(errs.TransactionAborted, err, "directory: list %s", ownerId)
	}
	return recs, nil
}

// Rename updates a document's title.
func (d *Directory) Rename(ctx context.Context, docId, newTitle string) error {
	res := d.db.WithContext(ctx).Model(&DocumentRecord{}).Where("doc_id = ?", docId).Update("title", newTitle)
	if res.Error != nil {
		return errs.Wrap(errs.TransactionAborted, res.Error, "directory: rename %s", docId)
	}
	if res.RowsAffected == 0 {
		return errs.New(errs.RevisionNotAvailable, "directory: no such document %s", docId)
	}
	return nil
}

// Delete removes a document's directory entry (not its underlying
// file; callers are responsible for DocComplex.Delete separately).
func (d *Directory) Delete(ctx context.Context, docId string) error {
	if err := d.db.WithContext(ctx).Where("doc_id = ?", docId).Delete(&DocumentRecord{}).Error; err != nil {
		return errs.Wrap(errs.TransactionAborted, err, "directory: delete %s", docId)
	}
	return nil
}
