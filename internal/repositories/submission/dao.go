package submission

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mike-walpole/d2g/pkg/database"
	"github.com/mike-walpole/d2g/pkg/models"
)

type submissionRow struct {
	ID            uuid.UUID                       `db:"id"`
	SubmittedAt   time.Time                       `db:"submitted_at"`
	UserEmail     string                          `db:"user_email"`
	FormID        string                          `db:"form_id"`
	SchemaVersion string                          `db:"schema_version"`
	FormData      database.JSONB[json.RawMessage] `db:"form_data"`
	Status        string                          `db:"status"`
	CompanyName   string                          `db:"company_name"`
	CargoTypeName string                          `db:"cargo_type_name"`
}

func fromSubmission(s models.Submission) submissionRow {
	formData := s.FormData
	if len(formData) == 0 {
		formData = json.RawMessage(`{}`)
	}
	return submissionRow{
		ID:            s.ID,
		SubmittedAt:   s.Timestamp.UTC(),
		UserEmail:     s.UserEmail,
		FormID:        s.FormID,
		SchemaVersion: s.SchemaVersion,
		FormData:      database.NewJSONB(formData),
		Status:        s.Status,
		CompanyName:   s.CompanyName,
		CargoTypeName: s.CargoTypeName,
	}
}

func (r submissionRow) toSubmission() models.Submission {
	return models.Submission{
		ID:            r.ID,
		Timestamp:     r.SubmittedAt.UTC(),
		UserEmail:     r.UserEmail,
		FormID:        r.FormID,
		SchemaVersion: r.SchemaVersion,
		FormData:      r.FormData.Data,
		Status:        r.Status,
		CompanyName:   r.CompanyName,
		CargoTypeName: r.CargoTypeName,
	}
}
