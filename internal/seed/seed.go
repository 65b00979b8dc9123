// Package seed loads the initial schemas and config documents into the registry.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"gopkg.in/yaml.v3"

	"github.com/mike-walpole/d2g/internal/services/registry"
	"github.com/mike-walpole/d2g/pkg/models"
)

// Document is one registry entry. The schema is given inline as YAML or as a path
// to a JSON file relative to the seed file.
type Document struct {
	FormID      string `yaml:"formId"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	IsActive    *bool  `yaml:"isActive"`
	Schema      any    `yaml:"schema"`
	SchemaFile  string `yaml:"schemaFile"`
}

type File struct {
	Documents []Document `yaml:"documents"`

	dir string
}

type Creator interface {
	Create(ctx context.Context, input registry.CreateInput) (models.SchemaRecord, error)
}

type Result struct {
	Created []string
	Skipped []string
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	file.dir = filepath.Dir(path)

	for i, doc := range file.Documents {
		if doc.FormID == "" || doc.Version == "" {
			return nil, fmt.Errorf("document %d: formId and version are required", i)
		}
		if (doc.Schema == nil) == (doc.SchemaFile == "") {
			return nil, fmt.Errorf("document %s/%s: exactly one of schema and schemaFile is required", doc.FormID, doc.Version)
		}
	}

	return &file, nil
}

func (f *File) schema(doc Document) (json.RawMessage, error) {
	if doc.SchemaFile == "" {
		return json.Marshal(doc.Schema)
	}

	data, err := os.ReadFile(filepath.Join(f.dir, doc.SchemaFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", doc.SchemaFile, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s is not valid JSON", doc.SchemaFile)
	}
	return data, nil
}

// Apply creates every document. Existing keys are skipped so a seed can be re-run.
func Apply(ctx context.Context, logger ectologger.Logger, creator Creator, file *File) (Result, error) {
	var result Result

	for _, doc := range file.Documents {
		key := doc.FormID + "/" + doc.Version
		log := logger.WithContext(ctx).WithFields(map[string]any{"form_id": doc.FormID, "version": doc.Version})

		schema, err := file.schema(doc)
		if err != nil {
			return result, fmt.Errorf("document %s: %w", key, err)
		}

		_, err = creator.Create(ctx, registry.CreateInput{
			FormID:      doc.FormID,
			Version:     doc.Version,
			Schema:      schema,
			Description: doc.Description,
			IsActive:    doc.IsActive,
		})
		switch {
		case err == nil:
			log.Info("seeded document")
			result.Created = append(result.Created, key)
		case httperror.GetStatusCode(err) == http.StatusConflict:
			log.Info("document already exists, skipping")
			result.Skipped = append(result.Skipped, key)
		default:
			return result, fmt.Errorf("document %s: %w", key, err)
		}
	}

	return result, nil
}
