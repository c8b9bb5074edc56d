package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"labelstudio/labeling"
)

// StoredDocument is a labeling document kept in the local database
type StoredDocument struct {
	ID          string    `gorm:"primaryKey;size:255"`
	FileName    string    `gorm:"size:1024"`
	Status      string    `gorm:"size:64;not null;default:'pending'"`
	Pages       string    `gorm:"type:text"` // JSON encoded []labeling.PageData
	CurrentPage int       `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LabelCommitRecord represents the schema of the label_commit_records table.
// One row is written per persistence job.
type LabelCommitRecord struct {
	ID         uint      `gorm:"primaryKey"`                         // Auto-incrementing primary key
	CommitID   string    `gorm:"size:64;uniqueIndex;not null"`       // Commit id assigned by the session
	JobID      string    `gorm:"size:64;index"`                      // Persistence job carrying the commit
	DocumentID string    `gorm:"size:255;index;not null"`            // Document the commit belongs to
	PageIndex  int       `gorm:"not null"`                           // Zero-based page
	Kind       string    `gorm:"size:32;not null"`                   // document_labels, line_item_labels or session
	Status     string    `gorm:"size:32;not null;default:'pending'"` // pending, saved or failed
	Error      string    `gorm:"size:4096"`                          // Failure reason
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StoredSession is the last editing position saved for a document
type StoredSession struct {
	DocumentID  string `gorm:"primaryKey;size:255"`
	CurrentPage int    `gorm:"not null"`
	Mode        string `gorm:"size:32"`
	Labels      string `gorm:"type:text"` // JSON encoded []labeling.Label
	SavedAt     time.Time
}

// InitializeDB connects to the database named by databaseURL and migrates the
// schema. A postgres:// URL selects PostgreSQL, anything else is a SQLite file.
func InitializeDB(databaseURL string) *gorm.DB {
	dialector, err := openDialector(databaseURL)
	if err != nil {
		log.Fatalf("Failed to prepare database: %v", err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := migrateDB(db); err != nil {
		log.Fatalf("Failed to migrate database schema: %v", err)
	}

	return db
}

func openDialector(databaseURL string) (gorm.Dialector, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return postgres.Open(databaseURL), nil
	}

	dbPath := databaseURL
	if dbPath == "" {
		dbPath = filepath.Join("db", "labels.db")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}
	return sqlite.Open(dbPath), nil
}

func migrateDB(db *gorm.DB) error {
	return db.AutoMigrate(&StoredDocument{}, &LabelCommitRecord{}, &StoredSession{})
}

// InsertLabelCommit inserts a new commit record into the database
func InsertLabelCommit(db *gorm.DB, record *LabelCommitRecord) error {
	return db.Create(record).Error
}

// UpdateLabelCommitStatus sets the final status of a commit record
func UpdateLabelCommitStatus(db *gorm.DB, commitID, status, errMsg string) error {
	result := db.Model(&LabelCommitRecord{}).
		Where("commit_id = ?", commitID).
		Updates(map[string]interface{}{"status": status, "error": errMsg, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("commit %s not found", commitID)
	}
	return nil
}

// GetLabelCommits retrieves the commit records of a document, newest first
func GetLabelCommits(db *gorm.DB, documentID string) ([]LabelCommitRecord, error) {
	var records []LabelCommitRecord
	result := db.Where("document_id = ?", documentID).Order("created_at desc, id desc").Find(&records)
	return records, result.Error
}

// LocalDocumentStore serves documents from the local database. It is used in
// local mode and in tests in place of the remote document store.
type LocalDocumentStore struct {
	DB      *gorm.DB
	Adapter *labeling.Adapter
}

// NewLocalDocumentStore creates a store backed by db.
func NewLocalDocumentStore(db *gorm.DB, adapter *labeling.Adapter) *LocalDocumentStore {
	if adapter == nil {
		adapter = labeling.NewAdapter(nil, nil, nil)
	}
	return &LocalDocumentStore{DB: db, Adapter: adapter}
}

// UpsertDocument creates or replaces a document.
func (s *LocalDocumentStore) UpsertDocument(ctx context.Context, doc *labeling.Document) error {
	record, err := toStoredDocument(doc)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error
}

// GetDocumentByID implements labeling.DocumentStore.
func (s *LocalDocumentStore) GetDocumentByID(ctx context.Context, id string) (*labeling.Document, error) {
	record, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return record.toDocument()
}

// UpdateDocument implements labeling.DocumentStore.
func (s *LocalDocumentStore) UpdateDocument(ctx context.Context, id string, update labeling.DocumentUpdate) (*labeling.Document, error) {
	record, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := record.toDocument()
	if err != nil {
		return nil, err
	}
	if update.ExtractedData != nil {
		doc.Pages = update.ExtractedData
	}
	if update.Status != "" {
		doc.Status = update.Status
	}
	doc.CurrentPage = update.CurrentPage
	if err := s.save(ctx, doc); err != nil {
		return nil, fmt.Errorf("error updating document %s: %w", id, err)
	}
	return doc, nil
}

// SaveLabels implements labeling.DocumentStore by applying the batch to the
// stored page.
func (s *LocalDocumentStore) SaveLabels(ctx context.Context, documentID string, pageIndex int, batch labeling.LabelBatch) error {
	record, err := s.find(ctx, documentID)
	if err != nil {
		return err
	}
	doc, err := record.toDocument()
	if err != nil {
		return err
	}
	if pageIndex < 0 || pageIndex >= len(doc.Pages) {
		return fmt.Errorf("page %d out of range for document %s", pageIndex, documentID)
	}
	applied := s.Adapter.ApplyBatch(&doc.Pages[pageIndex].ExtractedData, batch)
	documentLogger(documentID).WithField("page", pageIndex).Debugf("Applied %d labeled fields", applied)
	return s.save(ctx, doc)
}

// SaveSession implements labeling.DocumentStore.
func (s *LocalDocumentStore) SaveSession(ctx context.Context, documentID string, snapshot labeling.SessionSnapshot) error {
	labels, err := json.Marshal(snapshot.Labels)
	if err != nil {
		return fmt.Errorf("error marshalling labels: %w", err)
	}
	record := StoredSession{
		DocumentID:  documentID,
		CurrentPage: snapshot.CurrentPage,
		Mode:        string(snapshot.Mode),
		Labels:      string(labels),
		SavedAt:     snapshot.SavedAt,
	}
	return s.DB.WithContext(ctx).Save(&record).Error
}

// GetSession returns the saved editing position of a document.
func (s *LocalDocumentStore) GetSession(ctx context.Context, documentID string) (*StoredSession, error) {
	var record StoredSession
	err := s.DB.WithContext(ctx).First(&record, "document_id = ?", documentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session for %s: %w", documentID, labeling.ErrNotFound)
	}
	return &record, err
}

func (s *LocalDocumentStore) find(ctx context.Context, id string) (*StoredDocument, error) {
	var record StoredDocument
	err := s.DB.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("document %s: %w", id, labeling.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading document %s: %w", id, err)
	}
	return &record, nil
}

func (s *LocalDocumentStore) save(ctx context.Context, doc *labeling.Document) error {
	record, err := toStoredDocument(doc)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Model(&StoredDocument{}).Where("id = ?", doc.ID).
		Updates(map[string]interface{}{
			"file_name":    record.FileName,
			"status":       record.Status,
			"pages":        record.Pages,
			"current_page": record.CurrentPage,
		}).Error
}

func toStoredDocument(doc *labeling.Document) (StoredDocument, error) {
	pages, err := json.Marshal(doc.Pages)
	if err != nil {
		return StoredDocument{}, fmt.Errorf("error marshalling pages of document %s: %w", doc.ID, err)
	}
	status := doc.Status
	if status == "" {
		status = "pending"
	}
	return StoredDocument{
		ID:          doc.ID,
		FileName:    doc.FileName,
		Status:      status,
		Pages:       string(pages),
		CurrentPage: doc.CurrentPage,
	}, nil
}

func (r *StoredDocument) toDocument() (*labeling.Document, error) {
	doc := &labeling.Document{
		ID:          r.ID,
		FileName:    r.FileName,
		Status:      r.Status,
		CurrentPage: r.CurrentPage,
	}
	if r.Pages != "" {
		if err := json.Unmarshal([]byte(r.Pages), &doc.Pages); err != nil {
			return nil, fmt.Errorf("error decoding pages of document %s: %w", r.ID, err)
		}
	}
	return doc, nil
}

var _ labeling.DocumentStore = (*LocalDocumentStore)(nil)
