package submission

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/mike-walpole/d2g/internal/repositories"
	"github.com/mike-walpole/d2g/pkg/database"
	"github.com/mike-walpole/d2g/pkg/models"
)

const submissionsTable = "submissions"

var submissionStruct = database.NewStruct(new(submissionRow))

type Repository struct {
	*repositories.Repository
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		Repository: repositories.NewRepository(db, logger),
	}
}

func (r *Repository) Create(ctx context.Context, submission models.Submission) error {
	ctx, span := r.StartSpan(ctx, "SubmissionRepository.Create")
	defer span.End()

	ib := submissionStruct.InsertInto(submissionsTable, fromSubmission(submission))
	query, args := ib.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.LogError(ctx, "create", submissionsTable, err)
		return err
	}

	r.LogMutation(ctx, "create", submissionsTable, map[string]any{
		"submission_id": submission.ID.String(),
		"form_id":       submission.FormID,
	})
	return nil
}

// List returns up to limit submissions newest first, starting after the given key.
// LastKey is set on the page only when more rows remain.
func (r *Repository) List(ctx context.Context, limit int, after *models.SubmissionKey) (models.SubmissionPage, error) {
	ctx, span := r.StartSpan(ctx, "SubmissionRepository.List")
	defer span.End()

	sb := submissionStruct.SelectFrom(submissionsTable)
	if after != nil {
		sb.Where(fmt.Sprintf("(submitted_at, id) < (%s, %s)", sb.Var(after.Timestamp.UTC()), sb.Var(after.ID)))
	}
	sb.OrderBy("submitted_at DESC", "id DESC")
	sb.Limit(limit + 1)

	query, args := sb.Build()
	var rows []submissionRow
	if err := r.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		r.LogError(ctx, "list", submissionsTable, err)
		return models.SubmissionPage{}, err
	}

	page := models.SubmissionPage{Submissions: make([]models.Submission, 0, len(rows))}
	if len(rows) > limit {
		rows = rows[:limit]
		key := rows[len(rows)-1].toSubmission().Key()
		page.LastKey = &key
	}
	for _, row := range rows {
		page.Submissions = append(page.Submissions, row.toSubmission())
	}
	page.Count = len(page.Submissions)

	return page, nil
}

func (r *Repository) Delete(ctx context.Context, key models.SubmissionKey) error {
	ctx, span := r.StartSpan(ctx, "SubmissionRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(submissionsTable).
		Where(db.Equal("id", key.ID), db.Equal("submitted_at", key.Timestamp.UTC()))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.LogError(ctx, "delete", submissionsTable, err)
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.LogError(ctx, "delete", submissionsTable, err)
		return err
	}
	if rows == 0 {
		return repositories.NotFound("submission not found: %s", key.ID)
	}

	r.LogMutation(ctx, "delete", submissionsTable, map[string]any{"submission_id": key.ID.String()})
	return nil
}

func (r *Repository) Count(ctx context.Context) (int, error) {
	ctx, span := r.StartSpan(ctx, "SubmissionRepository.Count")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)").From(submissionsTable)

	query, args := sb.Build()
	var count int
	if err := r.DB().GetContext(ctx, &count, query, args...); err != nil {
		r.LogError(ctx, "count", submissionsTable, err)
		return 0, err
	}
	return count, nil
}

// Recent returns the n newest submissions.
func (r *Repository) Recent(ctx context.Context, n int) ([]models.Submission, error) {
	page, err := r.List(ctx, n, nil)
	if err != nil {
		return nil, err
	}
	return page.Submissions, nil
}
