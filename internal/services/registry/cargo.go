package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/mike-walpole/d2g/pkg/kafka"
	"github.com/mike-walpole/d2g/pkg/models"
	"github.com/mike-walpole/d2g/pkg/tracing"
)

var errCargoTypeNotFound = errors.New("cargo type not found")

type CargoTypeUpdate struct {
	ID     string
	Name   *models.LocalizedName
	Active *bool
}

func (s *Service) ListCargoTypes(ctx context.Context) (cargoTypes []models.CargoType, err error) {
	ctx, span := tracing.StartSpan(ctx, "registry.ListCargoTypes")
	defer span.End()
	defer observe("list_cargo_types", time.Now(), &err)

	record, err := s.store.Get(ctx, models.ConfigFormID, models.ConfigCargoTypes)
	if err != nil {
		return nil, s.cargoError(ctx, "list_cargo_types", err)
	}

	doc, err := models.DecodeDocument[models.CargoTypesDocument](record.Schema)
	if err != nil {
		return nil, s.upstream(ctx, "list_cargo_types", models.ConfigFormID, models.ConfigCargoTypes, err)
	}
	if doc.CargoTypes == nil {
		doc.CargoTypes = []models.CargoType{}
	}
	return doc.CargoTypes, nil
}

// AddCargoType appends an active entry whose id is the document's nextId counter.
func (s *Service) AddCargoType(ctx context.Context, name models.LocalizedName) (cargoType models.CargoType, err error) {
	ctx, span := tracing.StartSpan(ctx, "registry.AddCargoType")
	defer span.End()
	defer observe("add_cargo_type", time.Now(), &err)

	if name.Plain == "" && len(name.Translations) == 0 {
		return models.CargoType{}, badRequest("Cargo type name is required")
	}

	record, err := s.store.Mutate(ctx, models.ConfigFormID, models.ConfigCargoTypes, func(record *models.SchemaRecord) error {
		doc, err := openCargoDocument(record.Schema)
		if err != nil {
			return err
		}

		nextID, err := doc.nextID()
		if err != nil {
			return err
		}

		active := true
		cargoType = models.CargoType{ID: strconv.FormatInt(nextID, 10), Name: name, Active: &active}
		doc.cargoTypes = append(doc.cargoTypes, cargoType)
		doc.fields["nextId"] = json.RawMessage(strconv.FormatInt(nextID+1, 10))

		return s.saveCargoDocument(record, doc)
	})
	if err != nil {
		return models.CargoType{}, s.cargoError(ctx, "add_cargo_type", err)
	}

	s.logger.WithContext(ctx).WithField("cargo_type_id", cargoType.ID).Info("added cargo type")
	s.publish(ctx, kafka.EventSchemaUpdated, record)
	return cargoType, nil
}

// UpdateCargoType changes the name and/or active flag of the entry with the given id.
func (s *Service) UpdateCargoType(ctx context.Context, update CargoTypeUpdate) (cargoType models.CargoType, err error) {
	ctx, span := tracing.StartSpan(ctx, "registry.UpdateCargoType")
	defer span.End()
	defer observe("update_cargo_type", time.Now(), &err)

	if update.ID == "" {
		return models.CargoType{}, badRequest("Cargo type ID is required")
	}

	record, err := s.store.Mutate(ctx, models.ConfigFormID, models.ConfigCargoTypes, func(record *models.SchemaRecord) error {
		doc, err := openCargoDocument(record.Schema)
		if err != nil {
			return err
		}

		index := -1
		for i, ct := range doc.cargoTypes {
			if ct.ID == update.ID {
				index = i
				break
			}
		}
		if index < 0 {
			return errCargoTypeNotFound
		}

		if update.Name != nil {
			doc.cargoTypes[index].Name = *update.Name
		}
		if update.Active != nil {
			active := *update.Active
			doc.cargoTypes[index].Active = &active
		}
		cargoType = doc.cargoTypes[index]

		return s.saveCargoDocument(record, doc)
	})
	if err != nil {
		return models.CargoType{}, s.cargoError(ctx, "update_cargo_type", err)
	}

	s.logger.WithContext(ctx).WithField("cargo_type_id", cargoType.ID).Info("updated cargo type")
	s.publish(ctx, kafka.EventSchemaUpdated, record)
	return cargoType, nil
}

func (s *Service) cargoError(ctx context.Context, operation string, err error) error {
	if errors.Is(err, errCargoTypeNotFound) {
		return httperror.NewHTTPError(http.StatusNotFound, "Cargo type not found")
	}
	if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound {
		return httperror.NewHTTPError(http.StatusNotFound, "Cargo types configuration not found")
	}
	return s.upstream(ctx, operation, models.ConfigFormID, models.ConfigCargoTypes, err)
}

// cargoDocument keeps every top-level key of the stored document so that
// fields this service does not manage survive a rewrite.
type cargoDocument struct {
	fields     map[string]json.RawMessage
	cargoTypes []models.CargoType
}

func openCargoDocument(raw json.RawMessage) (*cargoDocument, error) {
	fields, err := models.DecodeDocument[map[string]json.RawMessage](raw)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}

	doc := &cargoDocument{fields: fields, cargoTypes: []models.CargoType{}}
	if items, ok := fields["cargoTypes"]; ok && !bytes.Equal(items, []byte("null")) {
		if err := json.Unmarshal(items, &doc.cargoTypes); err != nil {
			return nil, fmt.Errorf("invalid cargoTypes: %w", err)
		}
	}
	return doc, nil
}

// nextID reads the counter, falling back to one past the highest numeric id.
func (d *cargoDocument) nextID() (int64, error) {
	if raw, ok := d.fields["nextId"]; ok && !bytes.Equal(raw, []byte("null")) {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, fmt.Errorf("invalid nextId: %w", err)
		}
		if id, err := n.Int64(); err == nil {
			return id, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("invalid nextId: %w", err)
		}
		return int64(f), nil
	}

	var highest int64
	for _, ct := range d.cargoTypes {
		if id, err := strconv.ParseInt(ct.ID, 10, 64); err == nil && id > highest {
			highest = id
		}
	}
	return highest + 1, nil
}

func (s *Service) saveCargoDocument(record *models.SchemaRecord, doc *cargoDocument) error {
	now := s.now()

	items, err := json.Marshal(doc.cargoTypes)
	if err != nil {
		return err
	}
	lastUpdated, err := json.Marshal(now.Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	doc.fields["cargoTypes"] = items
	doc.fields["lastUpdated"] = lastUpdated

	schema, err := json.Marshal(doc.fields)
	if err != nil {
		return err
	}
	record.Schema = schema
	record.UpdatedAt = &now
	return nil
}
