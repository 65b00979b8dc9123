package schema

import (
	"context"
	"sort"
	"sync"

	"github.com/mike-walpole/d2g/internal/repositories"
	"github.com/mike-walpole/d2g/pkg/models"
)

type key struct {
	formID  string
	version string
}

// MemoryRepository is an in-process store with the same semantics as Repository.
// It backs tests and local runs without PostgreSQL.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[key]models.SchemaRecord
}

func NewMemoryRepository(records ...models.SchemaRecord) *MemoryRepository {
	repo := &MemoryRepository{records: make(map[key]models.SchemaRecord)}
	for _, record := range records {
		repo.records[key{record.FormID, record.Version}] = cloneRecord(record)
	}
	return repo
}

func (m *MemoryRepository) Create(_ context.Context, record models.SchemaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{record.FormID, record.Version}
	if _, ok := m.records[k]; ok {
		return repositories.Conflict("schema version %s already exists for formId: %s", record.Version, record.FormID)
	}
	m.records[k] = cloneRecord(record)
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, formID string, version string) (models.SchemaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[key{formID, version}]
	if !ok {
		return models.SchemaRecord{}, repositories.NotFound("schema not found for formId: %s, version: %s", formID, version)
	}
	return cloneRecord(record), nil
}

func (m *MemoryRepository) ListByForm(_ context.Context, formID string) ([]models.SchemaRecord, error) {
	return m.filter(func(r models.SchemaRecord) bool { return r.FormID == formID }), nil
}

func (m *MemoryRepository) ListExcluding(_ context.Context, excludedFormID string) ([]models.SchemaRecord, error) {
	return m.filter(func(r models.SchemaRecord) bool { return r.FormID != excludedFormID }), nil
}

func (m *MemoryRepository) Update(_ context.Context, formID string, version string, patch models.SchemaPatch) (models.SchemaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{formID, version}
	record, ok := m.records[k]
	if !ok {
		return models.SchemaRecord{}, repositories.NotFound("schema not found for formId: %s, version: %s", formID, version)
	}
	patch.Apply(&record)
	m.records[k] = cloneRecord(record)
	return cloneRecord(record), nil
}

func (m *MemoryRepository) Mutate(_ context.Context, formID string, version string, fn func(record *models.SchemaRecord) error) (models.SchemaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{formID, version}
	stored, ok := m.records[k]
	if !ok {
		return models.SchemaRecord{}, repositories.NotFound("schema not found for formId: %s, version: %s", formID, version)
	}

	record := cloneRecord(stored)
	if err := fn(&record); err != nil {
		return models.SchemaRecord{}, err
	}
	record.FormID, record.Version = formID, version
	m.records[k] = cloneRecord(record)
	return record, nil
}

func (m *MemoryRepository) Delete(_ context.Context, formID string, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{formID, version}
	if _, ok := m.records[k]; !ok {
		return repositories.NotFound("schema not found for formId: %s, version: %s", formID, version)
	}
	delete(m.records, k)
	return nil
}

func (m *MemoryRepository) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func (m *MemoryRepository) filter(match func(models.SchemaRecord) bool) []models.SchemaRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := []models.SchemaRecord{}
	for _, record := range m.records {
		if match(record) {
			records = append(records, cloneRecord(record))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].FormID != records[j].FormID {
			return records[i].FormID < records[j].FormID
		}
		return records[i].Version < records[j].Version
	})
	return records
}

func cloneRecord(record models.SchemaRecord) models.SchemaRecord {
	if record.Schema != nil {
		record.Schema = append([]byte(nil), record.Schema...)
	}
	if record.UpdatedAt != nil {
		updatedAt := *record.UpdatedAt
		record.UpdatedAt = &updatedAt
	}
	return record
}
