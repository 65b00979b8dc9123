package schema

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"

	"github.com/mike-walpole/d2g/internal/repositories"
	"github.com/mike-walpole/d2g/pkg/database"
	"github.com/mike-walpole/d2g/pkg/models"
)

const schemasTable = "form_schemas"

const returningColumns = "RETURNING form_id, version, schema, description, is_active, created_at, updated_at"

var schemaStruct = database.NewStruct(new(schemaRow))

// Repository stores schema records in PostgreSQL keyed by (form_id, version)
type Repository struct {
	*repositories.Repository
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		Repository: repositories.NewRepository(db, logger),
	}
}

// Create inserts the record only if its key is absent. An existing key is a 409.
func (r *Repository) Create(ctx context.Context, record models.SchemaRecord) error {
	ctx, span := r.StartSpan(ctx, "SchemaRepository.Create")
	defer span.End()

	ib := schemaStruct.InsertInto(schemasTable, fromRecord(record))
	ib.OnConflictDoNothing()

	query, args := ib.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.LogError(ctx, "create", schemasTable, err)
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.LogError(ctx, "create", schemasTable, err)
		return err
	}
	if rows == 0 {
		return repositories.Conflict("schema version %s already exists for formId: %s", record.Version, record.FormID)
	}

	r.LogMutation(ctx, "create", schemasTable, map[string]any{"form_id": record.FormID, "version": record.Version})
	return nil
}

func (r *Repository) Get(ctx context.Context, formID string, version string) (models.SchemaRecord, error) {
	ctx, span := r.StartSpan(ctx, "SchemaRepository.Get")
	defer span.End()

	sb := schemaStruct.SelectFrom(schemasTable)
	sb.Where(sb.Equal("form_id", formID), sb.Equal("version", version))

	query, args := sb.Build()
	var row schemaRow
	err := r.DB().GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SchemaRecord{}, repositories.NotFound("schema not found for formId: %s, version: %s", formID, version)
	}
	if err != nil {
		r.LogError(ctx, "get", schemasTable, err)
		return models.SchemaRecord{}, err
	}

	return row.toRecord(), nil
}

// ListByForm returns every version of a form in storage order.
func (r *Repository) ListByForm(ctx context.Context, formID string) ([]models.SchemaRecord, error) {
	ctx, span := r.StartSpan(ctx, "SchemaRepository.ListByForm")
	defer span.End()

	sb := schemaStruct.SelectFrom(schemasTable)
	sb.Where(sb.Equal("form_id", formID))
	sb.OrderBy("created_at").Desc()

	query, args := sb.Build()
	var rows []schemaRow
	if err := r.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		r.LogError(ctx, "list", schemasTable, err)
		return nil, err
	}

	return toRecords(rows), nil
}

// ListExcluding returns every record whose form is not excludedFormID.
func (r *Repository) ListExcluding(ctx context.Context, excludedFormID string) ([]models.SchemaRecord, error) {
	ctx, span := r.StartSpan(ctx, "SchemaRepository.ListExcluding")
	defer span.End()

	sb := schemaStruct.SelectFrom(schemasTable)
	sb.Where(sb.NotEqual("form_id", excludedFormID))
	sb.OrderBy("form_id")

	query, args := sb.Build()
	var rows []schemaRow
	if err := r.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		r.LogError(ctx, "list", schemasTable, err)
		return nil, err
	}

	return toRecords(rows), nil
}

// Update applies a partial update and returns the stored record.
func (r *Repository) Update(ctx context.Context, formID string, version string, patch models.SchemaPatch) (models.SchemaRecord, error) {
	ctx, span := r.StartSpan(ctx, "SchemaRepository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	assignments := []string{ub.Assign("updated_at", patch.UpdatedAt.UTC())}
	if patch.Schema != nil {
		assignments = append(assignments, ub.Assign("schema", database.NewJSONB(patch.Schema)))
	}
	if patch.Description != nil {
		assignments = append(assignments, ub.Assign("description", *patch.Description))
	}
	if patch.IsActive != nil {
		assignments = append(assignments, ub.Assign("is_active", *patch.IsActive))
	}

	ub.Update(schemasTable).
		Set(assignments...).
		Where(ub.Equal("form_id", formID), ub.Equal("version", version))
	ub.SQL(returningColumns)

	query, args := ub.Build()
	var row schemaRow
	err := r.DB().QueryRowxContext(ctx, query, args...).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SchemaRecord{}, repositories.NotFound("schema not found for formId: %s, version: %s", formID, version)
	}
	if err != nil {
		r.LogError(ctx, "update", schemasTable, err)
		return models.SchemaRecord{}, err
	}

	r.LogMutation(ctx, "update", schemasTable, map[string]any{"form_id": formID, "version": version})
	return row.toRecord(), nil
}

// Mutate locks one record for the length of a transaction, lets fn edit it and
// writes it back. An error from fn rolls the transaction back and is returned as is.
func (r *Repository) Mutate(ctx context.Context, formID string, version string, fn func(record *models.SchemaRecord) error) (models.SchemaRecord, error) {
	ctx, span := r.StartSpan(ctx, "SchemaRepository.Mutate")
	defer span.End()

	ctx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return models.SchemaRecord{}, err
	}
	defer tx.Rollback(ctx)

	sb := schemaStruct.SelectFrom(schemasTable)
	sb.Where(sb.Equal("form_id", formID), sb.Equal("version", version))
	sb.ForUpdate()

	query, args := sb.Build()
	var row schemaRow
	err = tx.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SchemaRecord{}, repositories.NotFound("schema not found for formId: %s, version: %s", formID, version)
	}
	if err != nil {
		r.LogError(ctx, "mutate", schemasTable, err)
		return models.SchemaRecord{}, err
	}

	record := row.toRecord()
	if err := fn(&record); err != nil {
		return models.SchemaRecord{}, err
	}

	updated := fromRecord(record)
	ub := database.NewUpdateBuilder()
	ub.Update(schemasTable).
		Set(
			ub.Assign("schema", updated.Schema),
			ub.Assign("description", updated.Description),
			ub.Assign("is_active", updated.IsActive),
			ub.Assign("updated_at", updated.UpdatedAt),
		).
		Where(ub.Equal("form_id", formID), ub.Equal("version", version))

	query, args = ub.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.LogError(ctx, "mutate", schemasTable, err)
		return models.SchemaRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.SchemaRecord{}, err
	}

	r.LogMutation(ctx, "mutate", schemasTable, map[string]any{"form_id": formID, "version": version})
	return record, nil
}

func (r *Repository) Delete(ctx context.Context, formID string, version string) error {
	ctx, span := r.StartSpan(ctx, "SchemaRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(schemasTable).
		Where(db.Equal("form_id", formID), db.Equal("version", version))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.LogError(ctx, "delete", schemasTable, err)
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.LogError(ctx, "delete", schemasTable, err)
		return err
	}
	if rows == 0 {
		return repositories.NotFound("schema not found for formId: %s, version: %s", formID, version)
	}

	r.LogMutation(ctx, "delete", schemasTable, map[string]any{"form_id": formID, "version": version})
	return nil
}

// Count returns the number of stored records, config documents included.
func (r *Repository) Count(ctx context.Context) (int, error) {
	ctx, span := r.StartSpan(ctx, "SchemaRepository.Count")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)").From(schemasTable)

	query, args := sb.Build()
	var count int
	if err := r.DB().GetContext(ctx, &count, query, args...); err != nil {
		r.LogError(ctx, "count", schemasTable, err)
		return 0, err
	}
	return count, nil
}
