package dashboard

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/mike-walpole/d2g/pkg/models"
	"github.com/mike-walpole/d2g/pkg/tracing"
)

const recentSubmissions = 5

type SubmissionCounter interface {
	Count(ctx context.Context) (int, error)
	Recent(ctx context.Context, n int) ([]models.Submission, error)
}

type SchemaCounter interface {
	Count(ctx context.Context) (int, error)
}

type UserCounter interface {
	Count(ctx context.Context) (int, error)
}

type Service struct {
	logger      ectologger.Logger
	submissions SubmissionCounter
	schemas     SchemaCounter
	users       UserCounter
}

func NewService(logger ectologger.Logger, submissions SubmissionCounter, schemas SchemaCounter, users UserCounter) *Service {
	return &Service{
		logger:      logger,
		submissions: submissions,
		schemas:     schemas,
		users:       users,
	}
}

// Get aggregates the admin dashboard. The identity provider is optional: when it
// fails the user count is reported as zero.
func (s *Service) Get(ctx context.Context) (models.Dashboard, error) {
	ctx, span := tracing.StartSpan(ctx, "dashboard.Get")
	defer span.End()

	totalSubmissions, err := s.submissions.Count(ctx)
	if err != nil {
		return models.Dashboard{}, s.fail(ctx, "count submissions", err)
	}

	totalSchemas, err := s.schemas.Count(ctx)
	if err != nil {
		return models.Dashboard{}, s.fail(ctx, "count schemas", err)
	}

	totalUsers := 0
	if s.users != nil {
		if totalUsers, err = s.users.Count(ctx); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("could not count users")
			totalUsers = 0
		}
	}

	recent, err := s.submissions.Recent(ctx, recentSubmissions)
	if err != nil {
		return models.Dashboard{}, s.fail(ctx, "load recent submissions", err)
	}

	return models.Dashboard{
		Statistics: models.DashboardStatistics{
			TotalSubmissions: totalSubmissions,
			TotalSchemas:     totalSchemas,
			TotalUsers:       totalUsers,
		},
		RecentSubmissions: recent,
	}, nil
}

func (s *Service) fail(ctx context.Context, step string, err error) error {
	if httperror.IsHTTPError(err) {
		return err
	}
	s.logger.WithContext(ctx).WithError(err).Errorf("dashboard: failed to %s", step)
	return httperror.NewHTTPError(http.StatusInternalServerError, "failed to load dashboard")
}
