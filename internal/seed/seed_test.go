package seed_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mike-walpole/d2g/internal/repositories/schema"
	"github.com/mike-walpole/d2g/internal/seed"
	"github.com/mike-walpole/d2g/internal/services/registry"
	"github.com/mike-walpole/d2g/pkg/models"
)

var logger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

func writeFile(t *testing.T, dir string, name string, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type failingCreator struct{}

func (failingCreator) Create(context.Context, registry.CreateInput) (models.SchemaRecord, error) {
	return models.SchemaRecord{}, errors.New("connection refused")
}

func TestLoad(t *testing.T) {
	t.Run("should load the bundled seed file", func(t *testing.T) {
		file, err := seed.Load("../../seed/seed.yaml")

		require.NoError(t, err)
		assert.Len(t, file.Documents, 4)
		assert.Equal(t, models.DefaultFormID, file.Documents[0].FormID)
	})

	t.Run("should require formId and version", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "seed.yaml", "documents:\n  - version: \"1.0.0\"\n    schema: {}\n")

		_, err := seed.Load(path)

		assert.ErrorContains(t, err, "formId and version are required")
	})

	t.Run("should reject a document with both schema sources", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "seed.yaml", "documents:\n  - formId: a\n    version: \"1\"\n    schema: {}\n    schemaFile: a.json\n")

		_, err := seed.Load(path)

		assert.ErrorContains(t, err, "exactly one of schema and schemaFile")
	})

	t.Run("should fail on a missing file", func(t *testing.T) {
		_, err := seed.Load(filepath.Join(t.TempDir(), "nope.yaml"))

		assert.Error(t, err)
	})
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	t.Run("should create documents and skip them on a second run", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "schemas/order.json", `{"type":"object","properties":{"qty":{"type":"number"}}}`)
		path := writeFile(t, dir, "seed.yaml", `documents:
  - formId: orderForm
    version: "1.0.0"
    description: first
    schemaFile: schemas/order.json
  - formId: config
    version: cargo-types
    isActive: false
    schema:
      nextId: 2
      cargoTypes:
        - id: "1"
          name: Steel
`)
		file, err := seed.Load(path)
		require.NoError(t, err)

		store := schema.NewMemoryRepository()
		service := registry.NewService(logger, store, nil, nil)

		result, err := seed.Apply(ctx, logger, service, file)
		require.NoError(t, err)
		assert.Equal(t, []string{"orderForm/1.0.0", "config/cargo-types"}, result.Created)
		assert.Empty(t, result.Skipped)

		order, err := service.Get(ctx, "orderForm", "1.0.0")
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"object","properties":{"qty":{"type":"number"}}}`, string(order.Schema))
		assert.True(t, order.IsActive)
		assert.Equal(t, "first", order.Description)

		cargo, err := store.Get(ctx, models.ConfigFormID, models.ConfigCargoTypes)
		require.NoError(t, err)
		assert.False(t, cargo.IsActive)
		var doc models.CargoTypesDocument
		require.NoError(t, json.Unmarshal(cargo.Schema, &doc))
		assert.Equal(t, int64(2), doc.NextID)
		assert.Equal(t, "Steel", doc.CargoTypes[0].Name.Plain)

		result, err = seed.Apply(ctx, logger, service, file)
		require.NoError(t, err)
		assert.Empty(t, result.Created)
		assert.Len(t, result.Skipped, 2)
	})

	t.Run("should reject a schema file that is not JSON", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "broken.json", `{"type":`)
		path := writeFile(t, dir, "seed.yaml", "documents:\n  - formId: a\n    version: \"1\"\n    schemaFile: broken.json\n")
		file, err := seed.Load(path)
		require.NoError(t, err)

		_, err = seed.Apply(ctx, logger, registry.NewService(logger, schema.NewMemoryRepository(), nil, nil), file)

		assert.ErrorContains(t, err, "not valid JSON")
	})

	t.Run("should stop on a storage failure", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "seed.yaml", "documents:\n  - formId: a\n    version: \"1\"\n    schema: {x: 1}\n")
		file, err := seed.Load(path)
		require.NoError(t, err)

		_, err = seed.Apply(ctx, logger, failingCreator{}, file)

		assert.ErrorContains(t, err, "connection refused")
	})
}
