package sources

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avezor/funnelboard/pkg/bitrix"
	"github.com/avezor/funnelboard/pkg/models"
)

type fakeRepo struct {
	stored      map[string]models.LeadSource
	created     int
	updated     int
	deactivated []string
	listCalls   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{stored: make(map[string]models.LeadSource)}
}

func (f *fakeRepo) List(ctx context.Context) ([]models.LeadSource, error) {
	f.listCalls++
	out := make([]models.LeadSource, 0, len(f.stored))
	for _, s := range f.stored {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeRepo) GetByBitrixID(ctx context.Context, bitrixID string) (*models.LeadSource, error) {
	if s, ok := f.stored[bitrixID]; ok {
		return &s, nil
	}
	return nil, nil
}

func (f *fakeRepo) Create(ctx context.Context, bitrixID, name string, syncedAt time.Time) (*models.LeadSource, error) {
	s := models.LeadSource{ID: uuid.New(), BitrixID: bitrixID, Name: name, IsActive: true, LastSync: syncedAt}
	f.stored[bitrixID] = s
	f.created++
	return &s, nil
}

func (f *fakeRepo) Update(ctx context.Context, bitrixID, name string, syncedAt time.Time) error {
	s := f.stored[bitrixID]
	s.Name = name
	s.LastSync = syncedAt
	f.stored[bitrixID] = s
	f.updated++
	return nil
}

func (f *fakeRepo) DeactivateMissing(ctx context.Context, presentBitrixIDs []string) error {
	f.deactivated = presentBitrixIDs
	return nil
}

type fakeCRM struct {
	sources []bitrix.Source
}

func (f *fakeCRM) FetchSources(ctx context.Context) ([]bitrix.Source, error) {
	return f.sources, nil
}

func TestService_Sync(t *testing.T) {
	t.Run("CreatesAndUpdates", func(t *testing.T) {
		repo := newFakeRepo()
		repo.stored["WEB"] = models.LeadSource{BitrixID: "WEB", Name: "Старое имя"}

		crm := &fakeCRM{sources: []bitrix.Source{
			{ID: "WEB", Name: "Сайт"},
			{ID: "CALL", Name: "Звонок"},
			{ID: "PARTNER", Name: ""},
		}}
		svc := NewService(repo, crm, nil, time.Minute, zap.NewNop())

		result, err := svc.Sync(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 2, result.Created)
		assert.Equal(t, 1, result.Updated)
		assert.Equal(t, 3, result.Total)
		assert.ElementsMatch(t, []string{"WEB", "CALL", "PARTNER"}, repo.deactivated)

		assert.Equal(t, "Сайт", repo.stored["WEB"].Name)
		assert.Equal(t, "Источник PARTNER", repo.stored["PARTNER"].Name, "blank names get a fallback")
	})

	t.Run("RebuildsCacheAfterSync", func(t *testing.T) {
		repo := newFakeRepo()
		crm := &fakeCRM{sources: []bitrix.Source{{ID: "WEB", Name: "Сайт"}}}
		svc := NewService(repo, crm, nil, time.Minute, zap.NewNop())

		assert.Equal(t, "", svc.ResolveName("WEB"))

		_, err := svc.Sync(context.Background())
		require.NoError(t, err)

		assert.Equal(t, "Сайт", svc.ResolveName("WEB"))
	})
}

func TestService_EnsureFresh(t *testing.T) {
	repo := newFakeRepo()
	repo.stored["WEB"] = models.LeadSource{BitrixID: "WEB", Name: "Сайт"}
	svc := NewService(repo, &fakeCRM{}, nil, time.Hour, zap.NewNop())

	svc.EnsureFresh(context.Background())
	assert.Equal(t, 1, repo.listCalls)
	assert.Equal(t, "Сайт", svc.ResolveName("WEB"))

	// Within the TTL a second call serves from cache.
	svc.EnsureFresh(context.Background())
	assert.Equal(t, 1, repo.listCalls)
}
