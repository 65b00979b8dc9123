package submission

import (
	"context"
	"sort"
	"sync"

	"github.com/mike-walpole/d2g/internal/repositories"
	"github.com/mike-walpole/d2g/pkg/models"
)

// MemoryRepository keeps submissions in process, ordered the same way as Repository.
type MemoryRepository struct {
	mu          sync.Mutex
	submissions []models.Submission
}

func NewMemoryRepository(submissions ...models.Submission) *MemoryRepository {
	return &MemoryRepository{submissions: append([]models.Submission(nil), submissions...)}
}

func (m *MemoryRepository) Create(_ context.Context, submission models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions = append(m.submissions, submission)
	return nil
}

func (m *MemoryRepository) List(_ context.Context, limit int, after *models.SubmissionKey) (models.SubmissionPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := append([]models.Submission(nil), m.submissions...)
	sort.Slice(sorted, func(i, j int) bool { return newer(sorted[i].Key(), sorted[j].Key()) })

	page := models.SubmissionPage{Submissions: []models.Submission{}}
	for _, s := range sorted {
		if after != nil && !newer(*after, s.Key()) {
			continue
		}
		if len(page.Submissions) == limit {
			key := page.Submissions[len(page.Submissions)-1].Key()
			page.LastKey = &key
			break
		}
		page.Submissions = append(page.Submissions, s)
	}
	page.Count = len(page.Submissions)
	return page, nil
}

func (m *MemoryRepository) Delete(_ context.Context, key models.SubmissionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.submissions {
		if s.ID == key.ID && s.Timestamp.Equal(key.Timestamp) {
			m.submissions = append(m.submissions[:i], m.submissions[i+1:]...)
			return nil
		}
	}
	return repositories.NotFound("submission not found: %s", key.ID)
}

func (m *MemoryRepository) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submissions), nil
}

func (m *MemoryRepository) Recent(ctx context.Context, n int) ([]models.Submission, error) {
	page, err := m.List(ctx, n, nil)
	if err != nil {
		return nil, err
	}
	return page.Submissions, nil
}

// newer orders keys by (timestamp, id) descending.
func newer(a, b models.SubmissionKey) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID.String() > b.ID.String()
}
