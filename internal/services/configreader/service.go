// Package configreader serves the localized UI configuration kept under the "config" form.
package configreader

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/mike-walpole/d2g/pkg/models"
	"github.com/mike-walpole/d2g/pkg/tracing"
)

const (
	TypeAll          = "all"
	TypeTranslations = "translations"
	TypeCargoTypes   = "cargo-types"

	DefaultLanguage = "en"
	unknownName     = "Unknown"
)

var validTypes = []string{TypeAll, TypeTranslations, TypeCargoTypes}

type SchemaReader interface {
	Get(ctx context.Context, formID string, version string) (models.SchemaRecord, error)
}

// Response carries only the sections that were requested. A nil section was not
// requested; a requested but missing section is empty, not nil.
type Response struct {
	Translations json.RawMessage
	CargoTypes   []models.CargoTypeOption
}

func (r Response) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if r.Translations != nil {
		out["translations"] = r.Translations
	}
	if r.CargoTypes != nil {
		out["cargoTypes"] = r.CargoTypes
	}
	return json.Marshal(out)
}

type Service struct {
	logger  ectologger.Logger
	schemas SchemaReader
}

func NewService(logger ectologger.Logger, schemas SchemaReader) *Service {
	return &Service{logger: logger, schemas: schemas}
}

func (s *Service) Get(ctx context.Context, configType string, lang string) (Response, error) {
	ctx, span := tracing.StartSpan(ctx, "configreader.Get")
	defer span.End()

	if configType == "" {
		configType = TypeAll
	}
	if lang == "" {
		lang = DefaultLanguage
	}
	if !ectolinq.Contains(validTypes, configType) {
		return Response{}, httperror.NewHTTPError(http.StatusBadRequest, "type must be one of all, translations, cargo-types")
	}

	var response Response
	if configType == TypeAll || configType == TypeTranslations {
		response.Translations = s.translations(ctx, lang)
	}
	if configType == TypeAll || configType == TypeCargoTypes {
		response.CargoTypes = s.cargoTypes(ctx, lang)
	}
	return response, nil
}

// translations picks lang, then English, then the first language in sorted order.
func (s *Service) translations(ctx context.Context, lang string) json.RawMessage {
	empty := json.RawMessage(`{}`)

	record, err := s.schemas.Get(ctx, models.ConfigFormID, models.ConfigTranslations)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Debug("translations document unavailable")
		return empty
	}

	doc, err := models.DecodeDocument[models.TranslationsDocument](record.Schema)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("invalid translations document")
		return empty
	}

	bundle, ok := doc.Select(lang)
	if !ok {
		return empty
	}
	return bundle
}

func (s *Service) cargoTypes(ctx context.Context, lang string) []models.CargoTypeOption {
	options := []models.CargoTypeOption{}

	record, err := s.schemas.Get(ctx, models.ConfigFormID, models.ConfigCargoTypes)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Debug("cargo types document unavailable")
		return options
	}

	doc, err := models.DecodeDocument[models.CargoTypesDocument](record.Schema)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("invalid cargo types document")
		return options
	}

	for _, cargoType := range ectolinq.Filter(doc.CargoTypes, models.CargoType.IsActive) {
		options = append(options, models.CargoTypeOption{
			ID:    cargoType.ID,
			Name:  cargoType.Name.Resolve(unknownName, lang, DefaultLanguage),
			Value: cargoType.ID,
		})
	}
	return options
}
