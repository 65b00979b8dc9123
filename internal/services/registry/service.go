// Package registry owns versioned form schemas and the singleton config documents
// stored next to them under the reserved "config" form.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/mike-walpole/d2g/pkg/kafka"
	"github.com/mike-walpole/d2g/pkg/metrics"
	"github.com/mike-walpole/d2g/pkg/models"
	"github.com/mike-walpole/d2g/pkg/tracing"
	"github.com/mike-walpole/d2g/pkg/versioning"
)

type Store interface {
	Create(ctx context.Context, record models.SchemaRecord) error
	Get(ctx context.Context, formID string, version string) (models.SchemaRecord, error)
	ListByForm(ctx context.Context, formID string) ([]models.SchemaRecord, error)
	ListExcluding(ctx context.Context, excludedFormID string) ([]models.SchemaRecord, error)
	Update(ctx context.Context, formID string, version string, patch models.SchemaPatch) (models.SchemaRecord, error)
	Mutate(ctx context.Context, formID string, version string, fn func(record *models.SchemaRecord) error) (models.SchemaRecord, error)
	Delete(ctx context.Context, formID string, version string) error
	Count(ctx context.Context) (int, error)
}

// Locker serializes read-then-write sequences on one form.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type Publisher interface {
	PublishSchemaEvent(ctx context.Context, evt *kafka.SchemaEvent) error
}

type CreateInput struct {
	FormID      string
	Schema      json.RawMessage
	Version     string
	Description string
	IsActive    *bool
}

type NextVersionInput struct {
	FormID      string
	Schema      json.RawMessage
	BaseVersion string
	Description string
}

type UpdateInput struct {
	FormID      string
	Version     string
	Schema      json.RawMessage
	Description *string
	IsActive    *bool
}

type Service struct {
	logger    ectologger.Logger
	store     Store
	locker    Locker
	publisher Publisher
	now       func() time.Time
}

func NewService(logger ectologger.Logger, store Store, locker Locker, publisher Publisher) *Service {
	if publisher == nil {
		publisher = kafka.NoopPublisher{}
	}
	if locker == nil {
		locker = newLocalLocker()
	}
	return &Service{
		logger:    logger,
		store:     store,
		locker:    locker,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for version stamps and timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Create(ctx context.Context, input CreateInput) (record models.SchemaRecord, err error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Create")
	defer span.End()
	defer observe("create", time.Now(), &err)

	if input.FormID == "" {
		return models.SchemaRecord{}, badRequest("formId is required")
	}
	if err := validateSchema(input.Schema, true); err != nil {
		return models.SchemaRecord{}, err
	}

	now := s.now()
	record = models.SchemaRecord{
		FormID:      input.FormID,
		Version:     input.Version,
		Schema:      input.Schema,
		Description: input.Description,
		IsActive:    input.IsActive == nil || *input.IsActive,
		CreatedAt:   now,
	}
	if record.Version == "" {
		record.Version = versioning.Timestamp(now)
	}

	if err := s.store.Create(ctx, record); err != nil {
		return models.SchemaRecord{}, s.upstream(ctx, "create", record.FormID, record.Version, err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"form_id":   record.FormID,
		"version":   record.Version,
		"is_active": record.IsActive,
	}).Info("created schema version")
	s.publish(ctx, kafka.EventSchemaCreated, record)
	return record, nil
}

// CreateNextVersion assigns the next version number of a form and stores it. A named
// base gets a patch bump and lends its schema when none is given; otherwise the latest
// version gets a minor bump.
func (s *Service) CreateNextVersion(ctx context.Context, input NextVersionInput) (record models.SchemaRecord, err error) {
	ctx, span := tracing.StartSpan(ctx, "registry.CreateNextVersion")
	defer span.End()
	defer observe("create_next_version", time.Now(), &err)

	if input.FormID == "" {
		return models.SchemaRecord{}, badRequest("formId is required")
	}
	if len(input.Schema) == 0 && input.BaseVersion == "" {
		return models.SchemaRecord{}, badRequest("schema or baseVersion is required")
	}
	if err := validateSchema(input.Schema, false); err != nil {
		return models.SchemaRecord{}, err
	}

	err = s.withFormLock(ctx, input.FormID, func(ctx context.Context) error {
		schema := input.Schema
		latest, hasLatest := "", false

		if input.BaseVersion != "" {
			base, err := s.store.Get(ctx, input.FormID, input.BaseVersion)
			if err != nil {
				return err
			}
			if len(schema) == 0 {
				schema = base.Schema
			}
		} else {
			records, err := s.store.ListByForm(ctx, input.FormID)
			if err != nil {
				return err
			}
			latest, hasLatest = versioning.Latest(ectolinq.Map(records, func(r models.SchemaRecord) string { return r.Version }))
		}

		version := versioning.Next(input.BaseVersion, latest, hasLatest)
		description := input.Description
		if description == "" {
			description = fmt.Sprintf("Version %s created by admin", version)
		}

		record = models.SchemaRecord{
			FormID:      input.FormID,
			Version:     version,
			Schema:      schema,
			Description: description,
			IsActive:    true,
			CreatedAt:   s.now(),
		}
		return s.store.Create(ctx, record)
	})
	if err != nil {
		return models.SchemaRecord{}, s.upstream(ctx, "create_next_version", input.FormID, input.BaseVersion, err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"form_id":      record.FormID,
		"version":      record.Version,
		"base_version": input.BaseVersion,
	}).Info("created next schema version")
	s.publish(ctx, kafka.EventSchemaCreated, record)
	return record, nil
}

// ResolveLatest returns the highest version of a form under versioning.Compare.
func (s *Service) ResolveLatest(ctx context.Context, formID string) (record models.SchemaRecord, err error) {
	ctx, span := tracing.StartSpan(ctx, "registry.ResolveLatest")
	defer span.End()
	defer observe("resolve_latest", time.Now(), &err)

	if formID == "" {
		return models.SchemaRecord{}, badRequest("formId is required")
	}

	records, err := s.store.ListByForm(ctx, formID)
	if err != nil {
		return models.SchemaRecord{}, s.upstream(ctx, "resolve_latest", formID, models.LatestVersion, err)
	}
	if len(records) == 0 {
		return models.SchemaRecord{}, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no versions found for formId: %s", formID))
	}

	sortNewestFirst(records)
	return records[0], nil
}

func (s *Service) Get(ctx context.Context, formID string, version string) (record models.SchemaRecord, err error) {
	if version == models.LatestVersion {
		return s.ResolveLatest(ctx, formID)
	}

	ctx, span := tracing.StartSpan(ctx, "registry.Get")
	defer span.End()
	defer observe("get", time.Now(), &err)

	if formID == "" || version == "" {
		return models.SchemaRecord{}, badRequest("formId and version are required")
	}

	record, err = s.store.Get(ctx, formID, version)
	if err != nil {
		return models.SchemaRecord{}, s.upstream(ctx, "get", formID, version, err)
	}
	return record, nil
}

func (s *Service) Update(ctx context.Context, input UpdateInput) (record models.SchemaRecord, err error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Update")
	defer span.End()
	defer observe("update", time.Now(), &err)

	if input.FormID == "" || input.Version == "" {
		return models.SchemaRecord{}, badRequest("formId and version are required")
	}
	if err := validateSchema(input.Schema, false); err != nil {
		return models.SchemaRecord{}, err
	}

	record, err = s.store.Update(ctx, input.FormID, input.Version, models.SchemaPatch{
		Schema:      input.Schema,
		Description: input.Description,
		IsActive:    input.IsActive,
		UpdatedAt:   s.now(),
	})
	if err != nil {
		return models.SchemaRecord{}, s.upstream(ctx, "update", input.FormID, input.Version, err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"form_id": record.FormID,
		"version": record.Version,
	}).Info("updated schema version")
	s.publish(ctx, kafka.EventSchemaUpdated, record)
	return record, nil
}

// Delete removes a version unless it is the form's only active one.
func (s *Service) Delete(ctx context.Context, formID string, version string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Delete")
	defer span.End()
	defer observe("delete", time.Now(), &err)

	if formID == "" || version == "" {
		return badRequest("formId and version are required")
	}

	var deleted models.SchemaRecord
	err = s.withFormLock(ctx, formID, func(ctx context.Context) error {
		target, err := s.store.Get(ctx, formID, version)
		if err != nil {
			return err
		}

		if target.IsActive {
			records, err := s.store.ListByForm(ctx, formID)
			if err != nil {
				return err
			}
			active := ectolinq.Filter(records, func(r models.SchemaRecord) bool { return r.IsActive })
			if len(active) <= 1 {
				return httperror.NewHTTPError(http.StatusConflict, "cannot delete the last active version")
			}
		}

		deleted = target
		return s.store.Delete(ctx, formID, version)
	})
	if err != nil {
		return s.upstream(ctx, "delete", formID, version, err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"form_id": formID,
		"version": version,
	}).Info("deleted schema version")
	s.publish(ctx, kafka.EventSchemaDeleted, deleted)
	return nil
}

func (s *Service) ListVersions(ctx context.Context, formID string) (summaries []models.VersionSummary, err error) {
	ctx, span := tracing.StartSpan(ctx, "registry.ListVersions")
	defer span.End()
	defer observe("list_versions", time.Now(), &err)

	if formID == "" {
		return nil, badRequest("formId is required")
	}

	records, err := s.store.ListByForm(ctx, formID)
	if err != nil {
		return nil, s.upstream(ctx, "list_versions", formID, "", err)
	}

	sortNewestFirst(records)
	return ectolinq.Map(records, models.SchemaRecord.Summary), nil
}

// ListForms groups every non-config version by form, newest first within each form.
func (s *Service) ListForms(ctx context.Context) (forms map[string][]models.VersionSummary, err error) {
	ctx, span := tracing.StartSpan(ctx, "registry.ListForms")
	defer span.End()
	defer observe("list_forms", time.Now(), &err)

	records, err := s.store.ListExcluding(ctx, models.ConfigFormID)
	if err != nil {
		return nil, s.upstream(ctx, "list_forms", "", "", err)
	}

	grouped := map[string][]models.SchemaRecord{}
	for _, record := range records {
		grouped[record.FormID] = append(grouped[record.FormID], record)
	}

	forms = make(map[string][]models.VersionSummary, len(grouped))
	for formID, versions := range grouped {
		sortNewestFirst(versions)
		forms[formID] = ectolinq.Map(versions, models.SchemaRecord.Summary)
	}
	return forms, nil
}

// Count returns the number of stored records, config documents included.
func (s *Service) Count(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "registry.Count")
	defer span.End()

	count, err := s.store.Count(ctx)
	if err != nil {
		return 0, s.upstream(ctx, "count", "", "", err)
	}
	return count, nil
}

func (s *Service) withFormLock(ctx context.Context, formID string, fn func(ctx context.Context) error) error {
	start := time.Now()
	acquired := false
	err := s.locker.WithLock(ctx, formID, func(ctx context.Context) error {
		acquired = true
		metrics.RecordLockWait("acquired", time.Since(start).Seconds())
		return fn(ctx)
	})
	if !acquired && err != nil {
		metrics.RecordLockWait("failed", time.Since(start).Seconds())
		s.logger.WithContext(ctx).WithError(err).WithField("form_id", formID).Error("failed to acquire schema lock")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to acquire schema lock")
	}
	return err
}

// upstream passes coded errors through and hides everything else behind a 500.
func (s *Service) upstream(ctx context.Context, operation string, formID string, version string, err error) error {
	if httperror.IsHTTPError(err) {
		return err
	}

	s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
		"operation": operation,
		"form_id":   formID,
		"version":   version,
	}).Error("schema registry operation failed")
	return httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to %s schema", humanize(operation)))
}

func (s *Service) publish(ctx context.Context, eventType string, record models.SchemaRecord) {
	err := s.publisher.PublishSchemaEvent(ctx, &kafka.SchemaEvent{
		Type:      eventType,
		FormID:    record.FormID,
		Version:   record.Version,
		IsActive:  record.IsActive,
		Timestamp: s.now(),
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": eventType,
			"form_id":    record.FormID,
			"version":    record.Version,
		}).Warn("failed to publish schema event")
	}
}

// sortNewestFirst orders records by descending version, then by descending createdAt.
func sortNewestFirst(records []models.SchemaRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if c := versioning.Compare(records[i].Version, records[j].Version); c != 0 {
			return c > 0
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

func validateSchema(schema json.RawMessage, required bool) error {
	if len(schema) == 0 {
		if required {
			return badRequest("schema is required")
		}
		return nil
	}
	if !json.Valid(schema) {
		return badRequest("schema must be valid JSON")
	}
	if bytes.Equal(bytes.TrimSpace(schema), []byte("null")) {
		return badRequest("schema is required")
	}
	return nil
}

func badRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}

func observe(operation string, start time.Time, err *error) {
	status := "success"
	if *err != nil {
		status = "error"
		if httperror.IsHTTPError(*err) {
			status = fmt.Sprintf("%d", httperror.GetStatusCode(*err))
		}
	}
	metrics.RecordRegistryOperation(operation, status, time.Since(start).Seconds())
}

func humanize(operation string) string {
	switch operation {
	case "create_next_version":
		return "create next version of"
	case "resolve_latest":
		return "resolve latest"
	case "list_versions", "list_forms":
		return "list"
	default:
		return operation
	}
}
