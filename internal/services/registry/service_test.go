package registry_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mike-walpole/d2g/internal/repositories/schema"
	"github.com/mike-walpole/d2g/internal/services/registry"
	"github.com/mike-walpole/d2g/pkg/kafka"
	"github.com/mike-walpole/d2g/pkg/models"
	"github.com/mike-walpole/d2g/pkg/redis"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.SchemaEvent
	err    error
}

func (p *recordingPublisher) PublishSchemaEvent(_ context.Context, evt *kafka.SchemaEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *evt)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, evt := range p.events {
		types = append(types, evt.Type)
	}
	return types
}

type testRegistry struct {
	service   *registry.Service
	store     *schema.MemoryRepository
	locker    *redis.Locker
	publisher *recordingPublisher
}

var fixedNow = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func getTestRegistry(t *testing.T, records ...models.SchemaRecord) testRegistry {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	locker := redis.NewLocker(redis.NewClientFromRedis(rdb, logger), "lock:schema:", time.Second, 100*time.Millisecond)
	store := schema.NewMemoryRepository(records...)
	publisher := &recordingPublisher{}

	service := registry.NewService(logger, store, locker, publisher).WithClock(func() time.Time { return fixedNow })
	return testRegistry{service: service, store: store, locker: locker, publisher: publisher}
}

func version(formID string, v string, active bool, createdAt time.Time) models.SchemaRecord {
	return models.SchemaRecord{
		FormID:    formID,
		Version:   v,
		Schema:    json.RawMessage(fmt.Sprintf(`{"v":%q}`, v)),
		IsActive:  active,
		CreatedAt: createdAt,
	}
}

func statusOf(err error) int {
	if err == nil || !httperror.IsHTTPError(err) {
		return 0
	}
	return httperror.GetStatusCode(err)
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("should store the record and read it back", func(t *testing.T) {
		r := getTestRegistry(t)

		created, err := r.service.Create(ctx, registry.CreateInput{
			FormID:  "orderForm",
			Version: "1.0.0",
			Schema:  json.RawMessage(`{"fields":["name"],"price":12.50}`),
		})
		require.NoError(t, err)
		assert.True(t, created.IsActive)
		assert.Equal(t, fixedNow, created.CreatedAt)

		got, err := r.service.Get(ctx, "orderForm", "1.0.0")
		require.NoError(t, err)
		assert.Equal(t, `{"fields":["name"],"price":12.50}`, string(got.Schema))
		assert.False(t, got.CreatedAt.IsZero())
		assert.Equal(t, []string{kafka.EventSchemaCreated}, r.publisher.types())
	})

	t.Run("should stamp a timestamp version when none is given", func(t *testing.T) {
		r := getTestRegistry(t)

		created, err := r.service.Create(ctx, registry.CreateInput{FormID: "orderForm", Schema: json.RawMessage(`{}`)})

		require.NoError(t, err)
		assert.Equal(t, "20250304_050607", created.Version)
	})

	t.Run("should honour an explicit inactive flag", func(t *testing.T) {
		r := getTestRegistry(t)
		inactive := false

		created, err := r.service.Create(ctx, registry.CreateInput{FormID: "orderForm", Version: "1.0.0", Schema: json.RawMessage(`{}`), IsActive: &inactive})

		require.NoError(t, err)
		assert.False(t, created.IsActive)
	})

	t.Run("should reject an existing key and leave the record unchanged", func(t *testing.T) {
		existing := version("orderForm", "1.0.0", true, fixedNow.Add(-time.Hour))
		r := getTestRegistry(t, existing)

		_, err := r.service.Create(ctx, registry.CreateInput{
			FormID:  "orderForm",
			Version: "1.0.0",
			Schema:  json.RawMessage(`{"overwritten":true}`),
		})

		assert.Equal(t, http.StatusConflict, statusOf(err))
		got, err := r.service.Get(ctx, "orderForm", "1.0.0")
		require.NoError(t, err)
		assert.Equal(t, string(existing.Schema), string(got.Schema))
		assert.Empty(t, r.publisher.types())
	})

	t.Run("should require a form id and a schema", func(t *testing.T) {
		r := getTestRegistry(t)

		_, err := r.service.Create(ctx, registry.CreateInput{Schema: json.RawMessage(`{}`)})
		assert.Equal(t, http.StatusBadRequest, statusOf(err))

		_, err = r.service.Create(ctx, registry.CreateInput{FormID: "orderForm"})
		assert.Equal(t, http.StatusBadRequest, statusOf(err))

		_, err = r.service.Create(ctx, registry.CreateInput{FormID: "orderForm", Schema: json.RawMessage(`null`)})
		assert.Equal(t, http.StatusBadRequest, statusOf(err))
	})

	t.Run("should not fail when the event cannot be published", func(t *testing.T) {
		r := getTestRegistry(t)
		r.publisher.err = errors.New("broker down")

		_, err := r.service.Create(ctx, registry.CreateInput{FormID: "orderForm", Version: "1.0.0", Schema: json.RawMessage(`{}`)})

		assert.NoError(t, err)
	})
}

func TestService_ResolveLatest(t *testing.T) {
	ctx := context.Background()

	t.Run("should compare dotted triples numerically", func(t *testing.T) {
		r := getTestRegistry(t)
		for _, v := range []string{"1.0.0", "1.1.0", "1.0.9"} {
			_, err := r.service.Create(ctx, registry.CreateInput{FormID: "orderForm", Version: v, Schema: json.RawMessage(`{}`)})
			require.NoError(t, err)
		}

		latest, err := r.service.ResolveLatest(ctx, "orderForm")

		require.NoError(t, err)
		assert.Equal(t, "1.1.0", latest.Version)
	})

	t.Run("should rank a two digit minor above a single digit one", func(t *testing.T) {
		r := getTestRegistry(t,
			version("orderForm", "1.9.0", true, fixedNow),
			version("orderForm", "1.10.0", true, fixedNow),
		)

		latest, err := r.service.ResolveLatest(ctx, "orderForm")

		require.NoError(t, err)
		assert.Equal(t, "1.10.0", latest.Version)
	})

	t.Run("should order timestamp versions as strings", func(t *testing.T) {
		r := getTestRegistry(t,
			version("orderForm", "20250101_000000", true, fixedNow),
			version("orderForm", "20250301_120000", true, fixedNow),
			version("orderForm", "20241231_235959", true, fixedNow),
		)

		latest, err := r.service.Get(ctx, "orderForm", models.LatestVersion)

		require.NoError(t, err)
		assert.Equal(t, "20250301_120000", latest.Version)
	})

	t.Run("should return not found for a form without versions", func(t *testing.T) {
		r := getTestRegistry(t)

		_, err := r.service.ResolveLatest(ctx, "missing")

		assert.Equal(t, http.StatusNotFound, statusOf(err))
	})
}

func TestService_CreateNextVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("should bump the minor version of the latest", func(t *testing.T) {
		r := getTestRegistry(t,
			version("orderForm", "2.3.0", true, fixedNow),
			version("orderForm", "2.3.1", true, fixedNow),
		)

		created, err := r.service.CreateNextVersion(ctx, registry.NextVersionInput{FormID: "orderForm", Schema: json.RawMessage(`{}`)})

		require.NoError(t, err)
		assert.Equal(t, "2.4.0", created.Version)
		assert.Equal(t, "Version 2.4.0 created by admin", created.Description)
		assert.True(t, created.IsActive)
	})

	t.Run("should bump from the numerically highest version", func(t *testing.T) {
		r := getTestRegistry(t,
			version("orderForm", "1.10.0", true, fixedNow),
			version("orderForm", "1.9.0", true, fixedNow),
		)

		created, err := r.service.CreateNextVersion(ctx, registry.NextVersionInput{FormID: "orderForm", Schema: json.RawMessage(`{}`)})

		require.NoError(t, err)
		assert.Equal(t, "1.11.0", created.Version)
	})

	t.Run("should bump the patch of a named base and copy its schema", func(t *testing.T) {
		r := getTestRegistry(t,
			version("orderForm", "2.3.1", true, fixedNow),
			version("orderForm", "3.0.0", true, fixedNow),
		)

		created, err := r.service.CreateNextVersion(ctx, registry.NextVersionInput{FormID: "orderForm", BaseVersion: "2.3.1"})

		require.NoError(t, err)
		assert.Equal(t, "2.3.2", created.Version)
		assert.JSONEq(t, `{"v":"2.3.1"}`, string(created.Schema))
	})

	t.Run("should prefer the supplied schema over the base schema", func(t *testing.T) {
		r := getTestRegistry(t, version("orderForm", "2.3.1", true, fixedNow))

		created, err := r.service.CreateNextVersion(ctx, registry.NextVersionInput{
			FormID:      "orderForm",
			BaseVersion: "2.3.1",
			Schema:      json.RawMessage(`{"fresh":true}`),
			Description: "hand written",
		})

		require.NoError(t, err)
		assert.JSONEq(t, `{"fresh":true}`, string(created.Schema))
		assert.Equal(t, "hand written", created.Description)
	})

	t.Run("should start a new form at 1.0.0", func(t *testing.T) {
		r := getTestRegistry(t)

		created, err := r.service.CreateNextVersion(ctx, registry.NextVersionInput{FormID: "newForm", Schema: json.RawMessage(`{}`)})

		require.NoError(t, err)
		assert.Equal(t, "1.0.0", created.Version)
	})

	t.Run("should append .1 to a latest that is not a triple", func(t *testing.T) {
		r := getTestRegistry(t, version("orderForm", "20250101_000000", true, fixedNow))

		created, err := r.service.CreateNextVersion(ctx, registry.NextVersionInput{FormID: "orderForm", Schema: json.RawMessage(`{}`)})

		require.NoError(t, err)
		assert.Equal(t, "20250101_000000.1", created.Version)
	})

	t.Run("should return not found for a missing base", func(t *testing.T) {
		r := getTestRegistry(t)

		_, err := r.service.CreateNextVersion(ctx, registry.NextVersionInput{FormID: "orderForm", BaseVersion: "9.9.9"})

		assert.Equal(t, http.StatusNotFound, statusOf(err))
	})

	t.Run("should require a schema or a base", func(t *testing.T) {
		r := getTestRegistry(t)

		_, err := r.service.CreateNextVersion(ctx, registry.NextVersionInput{FormID: "orderForm"})

		assert.Equal(t, http.StatusBadRequest, statusOf(err))
	})

	t.Run("should conflict when the bumped version already exists", func(t *testing.T) {
		r := getTestRegistry(t,
			version("orderForm", "2.3.1", true, fixedNow),
			version("orderForm", "2.3.2", true, fixedNow),
		)

		_, err := r.service.CreateNextVersion(ctx, registry.NextVersionInput{FormID: "orderForm", BaseVersion: "2.3.1"})

		assert.Equal(t, http.StatusConflict, statusOf(err))
	})

	t.Run("should hand out distinct versions to concurrent callers", func(t *testing.T) {
		r := getTestRegistry(t, version("orderForm", "1.0.0", true, fixedNow))

		var wg sync.WaitGroup
		versions := make(chan string, 4)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				created, err := r.service.CreateNextVersion(ctx, registry.NextVersionInput{FormID: "orderForm", Schema: json.RawMessage(`{}`)})
				if err == nil {
					versions <- created.Version
				}
			}()
		}
		wg.Wait()
		close(versions)

		seen := map[string]bool{}
		for v := range versions {
			assert.False(t, seen[v], "version %s handed out twice", v)
			seen[v] = true
		}
		assert.NotEmpty(t, seen)

		listed, err := r.service.ListVersions(ctx, "orderForm")
		require.NoError(t, err)
		assert.Len(t, listed, len(seen)+1)
	})

	t.Run("should serialize bumps in process without a distributed locker", func(t *testing.T) {
		logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
		service := registry.NewService(logger, schema.NewMemoryRepository(version("orderForm", "1.0.0", true, fixedNow)), nil, nil)

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := service.CreateNextVersion(ctx, registry.NextVersionInput{FormID: "orderForm", Schema: json.RawMessage(`{}`)})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		latest, err := service.ResolveLatest(ctx, "orderForm")
		require.NoError(t, err)
		assert.Equal(t, "1.5.0", latest.Version)
	})

	t.Run("should fail with an upstream error when the form is locked", func(t *testing.T) {
		r := getTestRegistry(t, version("orderForm", "1.0.0", true, fixedNow))
		lock, err := r.locker.Acquire(ctx, "orderForm", time.Second)
		require.NoError(t, err)
		defer lock.Release(ctx)

		_, err = r.service.CreateNextVersion(ctx, registry.NextVersionInput{FormID: "orderForm", Schema: json.RawMessage(`{}`)})

		assert.Equal(t, http.StatusInternalServerError, statusOf(err))
	})
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("should change only the description and stamp updatedAt", func(t *testing.T) {
		existing := version("orderForm", "1.0.0", true, fixedNow.Add(-time.Hour))
		r := getTestRegistry(t, existing)
		description := "renamed"

		updated, err := r.service.Update(ctx, registry.UpdateInput{FormID: "orderForm", Version: "1.0.0", Description: &description})

		require.NoError(t, err)
		assert.Equal(t, "renamed", updated.Description)
		assert.Equal(t, string(existing.Schema), string(updated.Schema))
		assert.True(t, updated.IsActive)
		require.NotNil(t, updated.UpdatedAt)
		assert.Equal(t, fixedNow, *updated.UpdatedAt)
		assert.Equal(t, []string{kafka.EventSchemaUpdated}, r.publisher.types())
	})

	t.Run("should replace the schema and active flag", func(t *testing.T) {
		r := getTestRegistry(t, version("orderForm", "1.0.0", true, fixedNow))
		inactive := false

		updated, err := r.service.Update(ctx, registry.UpdateInput{
			FormID:   "orderForm",
			Version:  "1.0.0",
			Schema:   json.RawMessage(`{"fields":["email"]}`),
			IsActive: &inactive,
		})

		require.NoError(t, err)
		assert.JSONEq(t, `{"fields":["email"]}`, string(updated.Schema))
		assert.False(t, updated.IsActive)
	})

	t.Run("should return not found for a missing key", func(t *testing.T) {
		r := getTestRegistry(t)
		description := "x"

		_, err := r.service.Update(ctx, registry.UpdateInput{FormID: "orderForm", Version: "1.0.0", Description: &description})

		assert.Equal(t, http.StatusNotFound, statusOf(err))
	})
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("should refuse to delete the only active version", func(t *testing.T) {
		r := getTestRegistry(t,
			version("orderForm", "1.0.0", true, fixedNow),
			version("orderForm", "1.1.0", false, fixedNow),
		)

		err := r.service.Delete(ctx, "orderForm", "1.0.0")

		assert.Equal(t, http.StatusConflict, statusOf(err))
		assert.Contains(t, err.Error(), "cannot delete the last active version")
		_, err = r.service.Get(ctx, "orderForm", "1.0.0")
		assert.NoError(t, err)
	})

	t.Run("should delete an active version while another remains", func(t *testing.T) {
		r := getTestRegistry(t,
			version("orderForm", "1.0.0", true, fixedNow),
			version("orderForm", "1.1.0", true, fixedNow),
		)

		require.NoError(t, r.service.Delete(ctx, "orderForm", "1.0.0"))

		_, err := r.service.Get(ctx, "orderForm", "1.0.0")
		assert.Equal(t, http.StatusNotFound, statusOf(err))
		assert.Equal(t, []string{kafka.EventSchemaDeleted}, r.publisher.types())
	})

	t.Run("should delete an inactive version", func(t *testing.T) {
		r := getTestRegistry(t,
			version("orderForm", "1.0.0", true, fixedNow),
			version("orderForm", "1.1.0", false, fixedNow),
		)

		assert.NoError(t, r.service.Delete(ctx, "orderForm", "1.1.0"))
	})

	t.Run("should return not found for a missing key", func(t *testing.T) {
		r := getTestRegistry(t)

		err := r.service.Delete(ctx, "orderForm", "1.0.0")

		assert.Equal(t, http.StatusNotFound, statusOf(err))
	})

	t.Run("should leave one active version when two deletes race", func(t *testing.T) {
		r := getTestRegistry(t,
			version("orderForm", "1.0.0", true, fixedNow),
			version("orderForm", "1.1.0", true, fixedNow),
		)

		var wg sync.WaitGroup
		for _, v := range []string{"1.0.0", "1.1.0"} {
			wg.Add(1)
			go func(v string) {
				defer wg.Done()
				_ = r.service.Delete(ctx, "orderForm", v)
			}(v)
		}
		wg.Wait()

		remaining, err := r.service.ListVersions(ctx, "orderForm")
		require.NoError(t, err)
		assert.Len(t, remaining, 1)
	})
}

func TestService_Listing(t *testing.T) {
	ctx := context.Background()
	older := fixedNow.Add(-time.Hour)

	r := getTestRegistry(t,
		version("orderForm", "1.9.0", true, older),
		version("orderForm", "1.10.0", false, fixedNow),
		version("orderForm", "1.0.0", true, older),
		version("quoteForm", "20250101_000000", true, older),
		version(models.ConfigFormID, models.ConfigCargoTypes, true, older),
	)

	t.Run("should list versions newest first", func(t *testing.T) {
		summaries, err := r.service.ListVersions(ctx, "orderForm")

		require.NoError(t, err)
		require.Len(t, summaries, 3)
		assert.Equal(t, "1.10.0", summaries[0].Version)
		assert.False(t, summaries[0].IsActive)
		assert.Equal(t, "1.9.0", summaries[1].Version)
		assert.Equal(t, "1.0.0", summaries[2].Version)
	})

	t.Run("should group forms and skip config documents", func(t *testing.T) {
		forms, err := r.service.ListForms(ctx)

		require.NoError(t, err)
		assert.Len(t, forms, 2)
		assert.NotContains(t, forms, models.ConfigFormID)
		assert.Equal(t, "1.10.0", forms["orderForm"][0].Version)
		assert.Len(t, forms["quoteForm"], 1)
	})

	t.Run("should count every record", func(t *testing.T) {
		count, err := r.service.Count(ctx)

		require.NoError(t, err)
		assert.Equal(t, 5, count)
	})
}

func TestService_OrderFormScenario(t *testing.T) {
	ctx := context.Background()
	r := getTestRegistry(t)

	_, err := r.service.Create(ctx, registry.CreateInput{
		FormID:  "orderForm",
		Version: "1.0.0",
		Schema:  json.RawMessage(`{"fields":["name"]}`),
	})
	require.NoError(t, err)

	next, err := r.service.CreateNextVersion(ctx, registry.NextVersionInput{FormID: "orderForm", Schema: json.RawMessage(`{"fields":["name"]}`)})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", next.Version)

	latest, err := r.service.ResolveLatest(ctx, "orderForm")
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", latest.Version)
}
