package impl

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/tas-context-cache/models"
	"github.com/tas-context-cache/services"
)

// gormRecordStore persists long-term records in postgres through gorm
type gormRecordStore struct {
	db *gorm.DB
}

func NewRecordStore(db *gorm.DB) services.RecordStore {
	return &gormRecordStore{db: db}
}

func (s *gormRecordStore) Save(ctx context.Context, rec *models.ContextRecord) error {
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("failed to save context record: %w", err)
	}
	return nil
}

func (s *gormRecordStore) Get(ctx context.Context, id string) (*models.ContextRecord, error) {
	var rec models.ContextRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("context record %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context record: %w", err)
	}
	return &rec, nil
}

func (s *gormRecordStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&models.ContextRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete context record: %w", err)
	}
	return nil
}

func (s *gormRecordStore) List(ctx context.Context) ([]models.ContextRecord, error) {
	var recs []models.ContextRecord
	if err := s.db.WithContext(ctx).Order("created_at asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list context records: %w", err)
	}
	return recs, nil
}

// inMemoryRecordStore backs deployments and tests without postgres
type inMemoryRecordStore struct {
	mu   sync.RWMutex
	recs map[string]models.ContextRecord
}

func NewInMemoryRecordStore() services.RecordStore {
	return &inMemoryRecordStore{recs: make(map[string]models.ContextRecord)}
}

func (s *inMemoryRecordStore) Save(ctx context.Context, rec *models.ContextRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = *rec
	return nil
}

func (s *inMemoryRecordStore) Get(ctx context.Context, id string) (*models.ContextRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, fmt.Errorf("context record %s: %w", id, models.ErrNotFound)
	}
	return &rec, nil
}

func (s *inMemoryRecordStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

func (s *inMemoryRecordStore) List(ctx context.Context) ([]models.ContextRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ContextRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	return out, nil
}
