package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	SubmissionStatusSubmitted = "submitted"

	// UnknownSchemaVersion stamps submissions whose form version could not be resolved.
	UnknownSchemaVersion = "unknown"
)

type Submission struct {
	ID            uuid.UUID       `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	UserEmail     string          `json:"userEmail"`
	FormID        string          `json:"formId"`
	SchemaVersion string          `json:"schemaVersion"`
	FormData      json.RawMessage `json:"formData"`
	Status        string          `json:"status"`
	CompanyName   string          `json:"companyName"`
	CargoTypeName string          `json:"cargoTypeName"`
}

// SubmissionKey identifies a submission and doubles as the pagination cursor.
type SubmissionKey struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (s Submission) Key() SubmissionKey {
	return SubmissionKey{ID: s.ID, Timestamp: s.Timestamp}
}

type SubmissionPage struct {
	Submissions []Submission   `json:"submissions"`
	LastKey     *SubmissionKey `json:"lastKey"`
	Count       int            `json:"count"`
}
