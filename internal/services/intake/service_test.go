package intake_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mike-walpole/d2g/internal/repositories/schema"
	"github.com/mike-walpole/d2g/internal/repositories/submission"
	"github.com/mike-walpole/d2g/internal/services/intake"
	"github.com/mike-walpole/d2g/internal/services/registry"
	"github.com/mike-walpole/d2g/pkg/email"
	"github.com/mike-walpole/d2g/pkg/kafka"
	"github.com/mike-walpole/d2g/pkg/models"
)

var fixedNow = time.Date(2025, 6, 9, 14, 30, 0, 0, time.UTC)

var fallback = []string{"fallback-a@example.com", "fallback-b@example.com"}

type fakeMailer struct {
	mu       sync.Mutex
	sent     []email.Message
	failFor  map[string]bool
	attempts int
}

func (m *fakeMailer) Send(_ context.Context, msg email.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failFor[msg.To[0]] {
		return "", errors.New("resend rejected email")
	}
	m.sent = append(m.sent, msg)
	return "email-id", nil
}

func (m *fakeMailer) to(address string) []email.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []email.Message
	for _, msg := range m.sent {
		if msg.To[0] == address {
			out = append(out, msg)
		}
	}
	return out
}

type recordingPublisher struct {
	events []kafka.SubmissionEvent
}

func (p *recordingPublisher) PublishSubmissionEvent(_ context.Context, evt *kafka.SubmissionEvent) error {
	p.events = append(p.events, *evt)
	return nil
}

type failingStore struct {
	*submission.MemoryRepository
}

func (failingStore) Create(context.Context, models.Submission) error {
	return errors.New("connection refused")
}

type testIntake struct {
	service     *intake.Service
	submissions *submission.MemoryRepository
	mailer      *fakeMailer
	publisher   *recordingPublisher
}

func config(version string, schemaJSON string) models.SchemaRecord {
	return models.SchemaRecord{
		FormID:    models.ConfigFormID,
		Version:   version,
		Schema:    json.RawMessage(schemaJSON),
		IsActive:  true,
		CreatedAt: fixedNow,
	}
}

func getTestIntake(t *testing.T, records ...models.SchemaRecord) testIntake {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	schemas := registry.NewService(logger, schema.NewMemoryRepository(records...), nil, nil)
	submissions := submission.NewMemoryRepository()
	mailer := &fakeMailer{failFor: map[string]bool{}}
	publisher := &recordingPublisher{}

	service := intake.NewService(logger, intake.Config{
		From:               "Dock2Gdansk <re-reply@comm.dagodigital.com>",
		FallbackRecipients: fallback,
	}, schemas, submissions, mailer, publisher).WithClock(func() time.Time { return fixedNow })

	return testIntake{service: service, submissions: submissions, mailer: mailer, publisher: publisher}
}

func mainForm(version string) models.SchemaRecord {
	return models.SchemaRecord{
		FormID:    models.DefaultFormID,
		Version:   version,
		Schema:    json.RawMessage(`{}`),
		IsActive:  true,
		CreatedAt: fixedNow,
	}
}

func TestService_Submit(t *testing.T) {
	ctx := context.Background()
	cargoTypes := config(models.ConfigCargoTypes, `{"cargoTypes":[
		{"id":"1","name":"Steel","active":true},
		{"id":"2","name":{"zh":"谷物","en":"Grain"},"active":true},
		{"id":"3","name":{"zh":"木材"},"active":true}
	],"nextId":4}`)

	t.Run("should stamp the latest version and notify everyone", func(t *testing.T) {
		it := getTestIntake(t, mainForm("1.9.0"), mainForm("1.10.0"), cargoTypes,
			config(models.ConfigAnalysisEmails, `{"emails":[{"email":"ops@port.pl","active":true},{"email":"old@port.pl","active":false}]}`))

		result, err := it.service.Submit(ctx, intake.SubmitInput{
			FormData:  json.RawMessage(`{"company":"ACME Shipping","cargo_type":"2","tonnage":1250.75}`),
			UserEmail: "client@example.com",
		})

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, "Form submitted successfully", result.Message)
		assert.Equal(t, models.DefaultFormID, result.FormID)
		assert.Equal(t, "1.10.0", result.SchemaVersion)
		assert.Equal(t, fixedNow, result.Timestamp)

		page, err := it.submissions.List(ctx, 10, nil)
		require.NoError(t, err)
		require.Len(t, page.Submissions, 1)
		stored := page.Submissions[0]
		assert.Equal(t, result.SubmissionID, stored.ID.String())
		assert.Equal(t, "ACME Shipping", stored.CompanyName)
		assert.Equal(t, "Grain", stored.CargoTypeName)
		assert.Equal(t, models.SubmissionStatusSubmitted, stored.Status)
		assert.JSONEq(t, `{"company":"ACME Shipping","cargo_type":"2","tonnage":1250.75}`, string(stored.FormData))

		confirmations := it.mailer.to("client@example.com")
		require.Len(t, confirmations, 1)
		assert.Equal(t, "Form Submission Confirmation - Dock2Gdansk", confirmations[0].Subject)
		assert.Contains(t, confirmations[0].Text, result.SubmissionID)

		notifications := it.mailer.to("ops@port.pl")
		require.Len(t, notifications, 1)
		assert.Equal(t, "Nowe zapytanie id:2 Grain ACME Shipping 09/06/2025", notifications[0].Subject)
		assert.Contains(t, notifications[0].Text, "FULL SUBMISSION DATA (JSON):")
		assert.Contains(t, notifications[0].Text, "Schema Version: 1.10.0")
		require.Len(t, notifications[0].Attachments, 1)
		assert.Equal(t, "dock2gdansk_ACME_Shipping_09-06-2025.json", notifications[0].Attachments[0].Filename)

		decoded, err := base64.StdEncoding.DecodeString(notifications[0].Attachments[0].Content)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(decoded, &payload))
		assert.Equal(t, result.SubmissionID, payload["submission_id"])
		assert.Equal(t, "Grain", payload["cargo_type_name"])
		assert.Empty(t, it.mailer.to("old@port.pl"))
		assert.Empty(t, it.mailer.to(fallback[0]))

		require.Len(t, it.publisher.events, 1)
		assert.Equal(t, kafka.EventSubmissionReceived, it.publisher.events[0].Type)
	})

	t.Run("should stamp unknown when the form has no versions", func(t *testing.T) {
		it := getTestIntake(t)

		result, err := it.service.Submit(ctx, intake.SubmitInput{FormData: json.RawMessage(`{"company":"ACME"}`), FormID: "missingForm"})

		require.NoError(t, err)
		assert.Equal(t, "missingForm", result.FormID)
		assert.Equal(t, models.UnknownSchemaVersion, result.SchemaVersion)
	})

	t.Run("should keep a caller supplied version", func(t *testing.T) {
		it := getTestIntake(t, mainForm("2.0.0"))

		result, err := it.service.Submit(ctx, intake.SubmitInput{FormData: json.RawMessage(`{}`), SchemaVersion: "1.0.0"})

		require.NoError(t, err)
		assert.Equal(t, "1.0.0", result.SchemaVersion)
	})

	t.Run("should fall back to defaults for cargo and company", func(t *testing.T) {
		it := getTestIntake(t, cargoTypes)

		_, err := it.service.Submit(ctx, intake.SubmitInput{FormData: json.RawMessage(`{"cargo_type":"99"}`)})
		require.NoError(t, err)

		notifications := it.mailer.to(fallback[0])
		require.Len(t, notifications, 1)
		assert.Equal(t, "Nowe zapytanie id:99 Unknown Cargo Unknown Company 09/06/2025", notifications[0].Subject)
	})

	t.Run("should resolve names from the company alternatives and zh translations", func(t *testing.T) {
		it := getTestIntake(t, cargoTypes)

		_, err := it.service.Submit(ctx, intake.SubmitInput{FormData: json.RawMessage(`{"companyName":"Baltic","cargo_type":"3"}`)})
		require.NoError(t, err)

		page, err := it.submissions.List(ctx, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, "Baltic", page.Submissions[0].CompanyName)
		assert.Equal(t, "木材", page.Submissions[0].CargoTypeName)
	})

	t.Run("should use the submitter email from the form data", func(t *testing.T) {
		it := getTestIntake(t)

		_, err := it.service.Submit(ctx, intake.SubmitInput{FormData: json.RawMessage(`{"email":"form@example.com"}`)})

		require.NoError(t, err)
		assert.Len(t, it.mailer.to("form@example.com"), 1)
	})

	t.Run("should skip the confirmation without a submitter email", func(t *testing.T) {
		it := getTestIntake(t)

		_, err := it.service.Submit(ctx, intake.SubmitInput{FormData: json.RawMessage(`{"company":"ACME"}`)})

		require.NoError(t, err)
		assert.Equal(t, len(fallback), it.mailer.attempts)
	})

	t.Run("should succeed when every email fails and keep trying recipients", func(t *testing.T) {
		it := getTestIntake(t)
		it.mailer.failFor = map[string]bool{"client@example.com": true, fallback[0]: true}

		result, err := it.service.Submit(ctx, intake.SubmitInput{
			FormData:  json.RawMessage(`{"company":"ACME"}`),
			UserEmail: "client@example.com",
		})

		require.NoError(t, err)
		assert.True(t, result.Success)
		assert.Equal(t, 3, it.mailer.attempts)
		assert.Len(t, it.mailer.to(fallback[1]), 1)
	})

	t.Run("should use fallback recipients when none are active", func(t *testing.T) {
		it := getTestIntake(t, config(models.ConfigAnalysisEmails, `{"emails":[{"email":"old@port.pl","active":false}]}`))

		_, err := it.service.Submit(ctx, intake.SubmitInput{FormData: json.RawMessage(`{}`)})

		require.NoError(t, err)
		assert.Len(t, it.mailer.to(fallback[0]), 1)
		assert.Len(t, it.mailer.to(fallback[1]), 1)
	})

	t.Run("should reject form data that is not an object", func(t *testing.T) {
		it := getTestIntake(t)

		_, err := it.service.Submit(ctx, intake.SubmitInput{FormData: json.RawMessage(`["a"]`)})

		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

		_, err = it.service.Submit(ctx, intake.SubmitInput{})
		assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	})

	t.Run("should fail when the submission cannot be stored", func(t *testing.T) {
		logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
		mailer := &fakeMailer{failFor: map[string]bool{}}
		service := intake.NewService(logger, intake.Config{FallbackRecipients: fallback},
			registry.NewService(logger, schema.NewMemoryRepository(), nil, nil),
			failingStore{submission.NewMemoryRepository()}, mailer, nil)

		_, err := service.Submit(ctx, intake.SubmitInput{FormData: json.RawMessage(`{}`), UserEmail: "client@example.com"})

		require.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, httperror.GetStatusCode(err))
		assert.Zero(t, mailer.attempts)
	})
}

func TestService_List(t *testing.T) {
	ctx := context.Background()
	it := getTestIntake(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, it.submissions.Create(ctx, models.Submission{ID: uuid.New(), Timestamp: fixedNow.Add(time.Duration(i) * time.Minute)}))
	}

	t.Run("should page with a last key", func(t *testing.T) {
		first, err := it.service.List(ctx, 2, nil)
		require.NoError(t, err)
		require.NotNil(t, first.LastKey)
		assert.Equal(t, 2, first.Count)

		second, err := it.service.List(ctx, 2, first.LastKey)
		require.NoError(t, err)
		assert.Equal(t, 1, second.Count)
		assert.Nil(t, second.LastKey)
	})

	t.Run("should use the default page size for an invalid limit", func(t *testing.T) {
		page, err := it.service.List(ctx, 0, nil)

		require.NoError(t, err)
		assert.Equal(t, 3, page.Count)
	})
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("should delete by id and timestamp", func(t *testing.T) {
		it := getTestIntake(t)
		key := models.SubmissionKey{ID: uuid.New(), Timestamp: fixedNow}
		require.NoError(t, it.submissions.Create(ctx, models.Submission{ID: key.ID, Timestamp: key.Timestamp}))

		require.NoError(t, it.service.Delete(ctx, key))

		count, err := it.submissions.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("should require both parts of the key", func(t *testing.T) {
		it := getTestIntake(t)

		err := it.service.Delete(ctx, models.SubmissionKey{ID: uuid.New()})

		assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	})

	t.Run("should return not found for an unknown submission", func(t *testing.T) {
		it := getTestIntake(t)

		err := it.service.Delete(ctx, models.SubmissionKey{ID: uuid.New(), Timestamp: fixedNow})

		assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
	})
}
