// Package intake stores form submissions and notifies the submitter and the analysis team.
package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/mike-walpole/d2g/pkg/email"
	"github.com/mike-walpole/d2g/pkg/kafka"
	"github.com/mike-walpole/d2g/pkg/metrics"
	"github.com/mike-walpole/d2g/pkg/models"
	"github.com/mike-walpole/d2g/pkg/tracing"
	"github.com/mike-walpole/d2g/pkg/utils"
)

const (
	UnknownCargo   = "Unknown Cargo"
	UnknownCompany = "Unknown Company"

	confirmationSubject = "Form Submission Confirmation - Dock2Gdansk"
	successMessage      = "Form submitted successfully"
	defaultPageSize     = 50
	maxPageSize         = 500
)

// SchemaReader is the part of the registry intake depends on.
type SchemaReader interface {
	ResolveLatest(ctx context.Context, formID string) (models.SchemaRecord, error)
	Get(ctx context.Context, formID string, version string) (models.SchemaRecord, error)
}

type SubmissionStore interface {
	Create(ctx context.Context, submission models.Submission) error
	List(ctx context.Context, limit int, after *models.SubmissionKey) (models.SubmissionPage, error)
	Delete(ctx context.Context, key models.SubmissionKey) error
}

type Mailer interface {
	Send(ctx context.Context, msg email.Message) (string, error)
}

type Publisher interface {
	PublishSubmissionEvent(ctx context.Context, evt *kafka.SubmissionEvent) error
}

type Config struct {
	From               string
	FallbackRecipients []string
}

type SubmitInput struct {
	FormData      json.RawMessage
	UserEmail     string
	FormID        string
	SchemaVersion string
}

type SubmitResult struct {
	Success       bool      `json:"success"`
	SubmissionID  string    `json:"submission_id"`
	Message       string    `json:"message"`
	FormID        string    `json:"form_id"`
	SchemaVersion string    `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
}

type Service struct {
	logger      ectologger.Logger
	cfg         Config
	schemas     SchemaReader
	submissions SubmissionStore
	mailer      Mailer
	publisher   Publisher
	now         func() time.Time
}

func NewService(logger ectologger.Logger, cfg Config, schemas SchemaReader, submissions SubmissionStore, mailer Mailer, publisher Publisher) *Service {
	if publisher == nil {
		publisher = kafka.NoopPublisher{}
	}
	return &Service{
		logger:      logger,
		cfg:         cfg,
		schemas:     schemas,
		submissions: submissions,
		mailer:      mailer,
		publisher:   publisher,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submit stores a submission stamped with the form version in effect, then sends
// notifications. Only a failed store fails the call.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (SubmitResult, error) {
	ctx, span := tracing.StartSpan(ctx, "intake.Submit")
	defer span.End()

	formData, err := decodeFormData(input.FormData)
	if err != nil {
		return SubmitResult{}, err
	}

	formID := input.FormID
	if formID == "" {
		formID = models.DefaultFormID
	}

	userEmail := input.UserEmail
	if userEmail == "" {
		userEmail, _ = utils.FirstString(formData, "email")
	}

	schemaVersion := input.SchemaVersion
	if schemaVersion == "" {
		schemaVersion = s.resolveVersion(ctx, formID)
	}

	cargoID, hasCargo := utils.FirstString(formData, "cargo_type")
	cargoName := UnknownCargo
	if hasCargo {
		cargoName = s.cargoTypeName(ctx, cargoID)
	} else {
		cargoID = "unknown"
	}

	companyName, ok := utils.FirstString(formData, "company", "company_name", "companyName")
	if !ok {
		companyName = UnknownCompany
	}

	submission := models.Submission{
		ID:            uuid.New(),
		Timestamp:     s.now(),
		UserEmail:     userEmail,
		FormID:        formID,
		SchemaVersion: schemaVersion,
		FormData:      input.FormData,
		Status:        models.SubmissionStatusSubmitted,
		CompanyName:   companyName,
		CargoTypeName: cargoName,
	}

	if err := s.submissions.Create(ctx, submission); err != nil {
		metrics.RecordSubmission(formID, "error")
		s.logger.WithContext(ctx).WithError(err).WithField("form_id", formID).Error("failed to store submission")
		return SubmitResult{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to store submission")
	}
	metrics.RecordSubmission(formID, "success")

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"submission_id":  submission.ID.String(),
		"form_id":        formID,
		"schema_version": schemaVersion,
	}).Info("stored submission")

	if userEmail != "" {
		s.sendConfirmation(ctx, submission)
	}
	s.notifyAnalysisTeam(ctx, submission, cargoID)
	s.publish(ctx, submission)

	return SubmitResult{
		Success:       true,
		SubmissionID:  submission.ID.String(),
		Message:       successMessage,
		FormID:        formID,
		SchemaVersion: schemaVersion,
		Timestamp:     submission.Timestamp,
	}, nil
}

// List pages through submissions newest first. A limit outside (0, 500] uses the default page size.
func (s *Service) List(ctx context.Context, limit int, after *models.SubmissionKey) (models.SubmissionPage, error) {
	ctx, span := tracing.StartSpan(ctx, "intake.List")
	defer span.End()

	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	page, err := s.submissions.List(ctx, limit, after)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("failed to list submissions")
		return models.SubmissionPage{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list submissions")
	}
	return page, nil
}

func (s *Service) Delete(ctx context.Context, key models.SubmissionKey) error {
	ctx, span := tracing.StartSpan(ctx, "intake.Delete")
	defer span.End()

	if key.ID == uuid.Nil || key.Timestamp.IsZero() {
		return httperror.NewHTTPError(http.StatusBadRequest, "submission_id and timestamp are required")
	}

	if err := s.submissions.Delete(ctx, key); err != nil {
		if httperror.IsHTTPError(err) {
			return err
		}
		s.logger.WithContext(ctx).WithError(err).WithField("submission_id", key.ID.String()).Error("failed to delete submission")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete submission")
	}

	s.logger.WithContext(ctx).WithField("submission_id", key.ID.String()).Info("deleted submission")
	return nil
}

func (s *Service) resolveVersion(ctx context.Context, formID string) string {
	latest, err := s.schemas.ResolveLatest(ctx, formID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("form_id", formID).Warn("could not resolve schema version")
		return models.UnknownSchemaVersion
	}
	return latest.Version
}

func (s *Service) cargoTypeName(ctx context.Context, cargoID string) string {
	record, err := s.schemas.Get(ctx, models.ConfigFormID, models.ConfigCargoTypes)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("could not load cargo types")
		return UnknownCargo
	}

	doc, err := models.DecodeDocument[models.CargoTypesDocument](record.Schema)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("could not decode cargo types")
		return UnknownCargo
	}

	for _, cargoType := range doc.CargoTypes {
		if cargoType.ID == cargoID {
			return cargoType.Name.Resolve(UnknownCargo, "en", "zh")
		}
	}
	return UnknownCargo
}

func (s *Service) analysisRecipients(ctx context.Context) []string {
	record, err := s.schemas.Get(ctx, models.ConfigFormID, models.ConfigAnalysisEmails)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("could not load analysis emails, using fallback recipients")
		return s.cfg.FallbackRecipients
	}

	doc, err := models.DecodeDocument[models.AnalysisEmailsDocument](record.Schema)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("could not decode analysis emails, using fallback recipients")
		return s.cfg.FallbackRecipients
	}

	if emails := doc.ActiveEmails(); len(emails) > 0 {
		return emails
	}
	return s.cfg.FallbackRecipients
}

func (s *Service) sendConfirmation(ctx context.Context, submission models.Submission) {
	body := fmt.Sprintf("New form submission received:\n\nSubmission ID: %s\nUser Email: %s\nTimestamp: %s\n\nForm Data:\n%s\n",
		submission.ID, submission.UserEmail, isoTimestamp(submission.Timestamp), indentJSON(submission.FormData))

	_, err := s.mailer.Send(ctx, email.Message{
		From:    s.cfg.From,
		To:      []string{submission.UserEmail},
		Subject: confirmationSubject,
		Text:    body,
	})
	if err != nil {
		metrics.RecordEmail("confirmation", "error")
		s.logger.WithContext(ctx).WithError(err).WithField("submission_id", submission.ID.String()).Warn("failed to send confirmation email")
		return
	}
	metrics.RecordEmail("confirmation", "success")
}

type notificationPayload struct {
	SubmissionID  string          `json:"submission_id"`
	Timestamp     string          `json:"timestamp"`
	UserEmail     string          `json:"user_email"`
	FormID        string          `json:"form_id"`
	SchemaVersion string          `json:"schema_version"`
	FormData      json.RawMessage `json:"form_data"`
	CargoTypeName string          `json:"cargo_type_name"`
}

// notifyAnalysisTeam mails every recipient separately so one bad address does not block the rest.
func (s *Service) notifyAnalysisTeam(ctx context.Context, submission models.Submission, cargoID string) {
	date := submission.Timestamp.Format("02/01/2006")
	subject := fmt.Sprintf("Nowe zapytanie id:%s %s %s %s", cargoID, submission.CargoTypeName, submission.CompanyName, date)

	payload := indentJSON(mustMarshal(notificationPayload{
		SubmissionID:  submission.ID.String(),
		Timestamp:     isoTimestamp(submission.Timestamp),
		UserEmail:     submission.UserEmail,
		FormID:        submission.FormID,
		SchemaVersion: submission.SchemaVersion,
		FormData:      submission.FormData,
		CargoTypeName: submission.CargoTypeName,
	}))

	var body strings.Builder
	body.WriteString("New Dock2Gdansk submission received:\n\n")
	fmt.Fprintf(&body, "Cargo Type: %s\n", submission.CargoTypeName)
	fmt.Fprintf(&body, "Company: %s\n", submission.CompanyName)
	fmt.Fprintf(&body, "Date: %s\n", date)
	fmt.Fprintf(&body, "Submission ID: %s\n", submission.ID)
	fmt.Fprintf(&body, "User Email: %s\n", submission.UserEmail)
	fmt.Fprintf(&body, "Schema Version: %s\n\n", submission.SchemaVersion)
	body.WriteString("FULL SUBMISSION DATA (JSON):\n")
	body.WriteString(payload)
	body.WriteString("\n")

	filename := fmt.Sprintf("dock2gdansk_%s_%s.json",
		strings.ReplaceAll(submission.CompanyName, " ", "_"),
		submission.Timestamp.Format("02-01-2006"))
	attachment := email.NewAttachment(filename, []byte(payload))

	for _, recipient := range s.analysisRecipients(ctx) {
		_, err := s.mailer.Send(ctx, email.Message{
			From:        s.cfg.From,
			To:          []string{recipient},
			Subject:     subject,
			Text:        body.String(),
			Attachments: []email.Attachment{attachment},
		})
		if err != nil {
			metrics.RecordEmail("notification", "error")
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"submission_id": submission.ID.String(),
				"recipient":     recipient,
			}).Warn("failed to send admin notification")
			continue
		}
		metrics.RecordEmail("notification", "success")
	}
}

func (s *Service) publish(ctx context.Context, submission models.Submission) {
	err := s.publisher.PublishSubmissionEvent(ctx, &kafka.SubmissionEvent{
		Type:          kafka.EventSubmissionReceived,
		SubmissionID:  submission.ID.String(),
		FormID:        submission.FormID,
		SchemaVersion: submission.SchemaVersion,
		CompanyName:   submission.CompanyName,
		CargoTypeName: submission.CargoTypeName,
		Timestamp:     submission.Timestamp,
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("submission_id", submission.ID.String()).Warn("failed to publish submission event")
	}
}

func decodeFormData(raw json.RawMessage) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "form_data is required")
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var formData map[string]any
	if err := decoder.Decode(&formData); err != nil || formData == nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "form_data must be a JSON object")
	}
	return formData, nil
}

func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000")
}

func indentJSON(raw []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return string(raw)
	}
	return out.String()
}

func mustMarshal(v any) []byte {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return []byte("{}")
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}
