package schema

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mike-walpole/d2g/pkg/database"
	"github.com/mike-walpole/d2g/pkg/models"
)

type schemaRow struct {
	FormID      string                          `db:"form_id"`
	Version     string                          `db:"version"`
	Schema      database.JSONB[json.RawMessage] `db:"schema"`
	Description sql.NullString                  `db:"description"`
	IsActive    bool                            `db:"is_active"`
	CreatedAt   time.Time                       `db:"created_at"`
	UpdatedAt   sql.NullTime                    `db:"updated_at"`
}

func fromRecord(record models.SchemaRecord) schemaRow {
	row := schemaRow{
		FormID:      record.FormID,
		Version:     record.Version,
		Schema:      database.NewJSONB(record.Schema),
		Description: sql.NullString{String: record.Description, Valid: record.Description != ""},
		IsActive:    record.IsActive,
		CreatedAt:   record.CreatedAt.UTC(),
	}
	if record.UpdatedAt != nil {
		row.UpdatedAt = sql.NullTime{Time: record.UpdatedAt.UTC(), Valid: true}
	}
	return row
}

func (r schemaRow) toRecord() models.SchemaRecord {
	record := models.SchemaRecord{
		FormID:      r.FormID,
		Version:     r.Version,
		Schema:      r.Schema.Data,
		Description: r.Description.String,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.UpdatedAt.Valid {
		updatedAt := r.UpdatedAt.Time.UTC()
		record.UpdatedAt = &updatedAt
	}
	return record
}

func toRecords(rows []schemaRow) []models.SchemaRecord {
	records := make([]models.SchemaRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records
}
