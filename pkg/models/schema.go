package models

import (
	"encoding/json"
	"time"
)

const (
	// ConfigFormID groups singleton configuration documents.
	ConfigFormID = "config"

	ConfigCargoTypes     = "cargo-types"
	ConfigTranslations   = "translations"
	ConfigAnalysisEmails = "analysis-emails"

	// LatestVersion resolves to the highest version of a form.
	LatestVersion = "latest"

	DefaultFormID = "dock2gdansk-main"
)

// SchemaRecord is one version of a form schema or a config document.
// Schema is kept as raw JSON so numbers round-trip byte for byte.
type SchemaRecord struct {
	FormID      string          `json:"formId"`
	Version     string          `json:"version"`
	Schema      json.RawMessage `json:"schema"`
	Description string          `json:"description"`
	IsActive    bool            `json:"isActive"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   *time.Time      `json:"updatedAt,omitempty"`
}

// VersionSummary is the listing view of a SchemaRecord.
type VersionSummary struct {
	Version     string    `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	IsActive    bool      `json:"isActive"`
	Description string    `json:"description"`
}

func (r SchemaRecord) Summary() VersionSummary {
	return VersionSummary{
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
		IsActive:    r.IsActive,
		Description: r.Description,
	}
}

// SchemaPatch carries a partial update. Nil fields are left unchanged.
type SchemaPatch struct {
	Schema      json.RawMessage
	Description *string
	IsActive    *bool
	UpdatedAt   time.Time
}

// Apply copies the supplied fields onto the record and stamps UpdatedAt.
func (p SchemaPatch) Apply(record *SchemaRecord) {
	if p.Schema != nil {
		record.Schema = p.Schema
	}
	if p.Description != nil {
		record.Description = *p.Description
	}
	if p.IsActive != nil {
		record.IsActive = *p.IsActive
	}
	updatedAt := p.UpdatedAt
	record.UpdatedAt = &updatedAt
}
