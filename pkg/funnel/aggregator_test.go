package funnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avezor/funnelboard/pkg/models"
)

func newTestAggregator() *Aggregator {
	return NewAggregator(NewStageTable(), zap.NewNop())
}

func TestAggregator_GroupBySource(t *testing.T) {
	agg := newTestAggregator()

	t.Run("MeetingsScheduledIncludesHeld", func(t *testing.T) {
		leads := []models.Lead{
			{ID: "1", SourceID: "X", StatusID: "2"},
			{ID: "2", SourceID: "X", StatusID: "UC_AD2OF7"},
			{ID: "3", SourceID: "X", StatusID: "CONVERTED"},
		}

		groups := agg.GroupBySource(leads, nil)
		require.Len(t, groups, 1)

		g := groups[0]
		assert.Equal(t, "X", g.SourceID)
		assert.Equal(t, 3, g.TotalLeads)
		assert.Equal(t, 1, g.StageAnalysis.New)
		assert.Equal(t, 1, g.StageAnalysis.MeetingsScheduled)
		assert.Equal(t, 1, g.StageAnalysis.Converted)
		assert.Equal(t, 1, g.MeetingsHeld)
		assert.Equal(t, 2, g.MeetingsScheduled)
		assert.Equal(t, "50.0", g.MeetingsHeldFromScheduledConversion)
	})

	t.Run("CommentsCombinesThreeStages", func(t *testing.T) {
		leads := []models.Lead{
			{ID: "1", SourceID: "CALL", StatusID: "UC_WFIWVS"},
			{ID: "2", SourceID: "CALL", StatusID: "UC_OMBROC"},
			{ID: "3", SourceID: "CALL", StatusID: "UC_VKCFXM"},
			{ID: "4", SourceID: "CALL", StatusID: "6"},
		}

		groups := agg.GroupBySource(leads, nil)
		require.Len(t, groups, 1)

		g := groups[0]
		assert.Equal(t, 3, g.Comments)
		assert.Equal(t, "75.0", g.CommentsConversion)
		assert.Equal(t, 1, g.Qualified)
		assert.Equal(t, "25.0", g.QualifiedConversion)
		assert.Equal(t, 3, g.StageAnalysis.Communication)
	})

	t.Run("MissingSourceFallsBackToNoSource", func(t *testing.T) {
		leads := []models.Lead{
			{ID: "1", SourceID: "", StatusID: "2"},
			{ID: "2", SourceID: "WEB", StatusID: "2"},
		}

		groups := agg.GroupBySource(leads, nil)
		require.Len(t, groups, 2)

		total := 0
		var noSource *models.SourceGroup
		for i := range groups {
			total += groups[i].TotalLeads
			if groups[i].SourceID == NoSourceKey {
				noSource = &groups[i]
			}
		}
		assert.Equal(t, len(leads), total, "grouping must not lose leads")
		require.NotNil(t, noSource)
		assert.Equal(t, 1, noSource.TotalLeads)
		assert.Equal(t, "Без источника", noSource.SourceName)
	})

	t.Run("UnknownStatusCountedNotDropped", func(t *testing.T) {
		leads := []models.Lead{
			{ID: "1", SourceID: "WEB", StatusID: "UC_MYSTERY"},
			{ID: "2", SourceID: "WEB", StatusID: "2"},
		}

		groups := agg.GroupBySource(leads, nil)
		require.Len(t, groups, 1)
		assert.Equal(t, 2, groups[0].TotalLeads)
		assert.Equal(t, 1, groups[0].StageAnalysis.Unknown)
	})

	t.Run("NameResolver", func(t *testing.T) {
		leads := []models.Lead{{ID: "1", SourceID: "WEB", StatusID: "2"}}

		groups := agg.GroupBySource(leads, func(sourceID string) string {
			if sourceID == "WEB" {
				return "Сайт"
			}
			return ""
		})
		require.Len(t, groups, 1)
		assert.Equal(t, "Сайт", groups[0].SourceName)

		groups = agg.GroupBySource(leads, nil)
		assert.Equal(t, "Источник WEB", groups[0].SourceName)
	})

	t.Run("EmptyInput", func(t *testing.T) {
		groups := agg.GroupBySource(nil, nil)
		assert.Empty(t, groups)
	})

	t.Run("SortedByLeadCountDesc", func(t *testing.T) {
		leads := []models.Lead{
			{ID: "1", SourceID: "A", StatusID: "2"},
			{ID: "2", SourceID: "B", StatusID: "2"},
			{ID: "3", SourceID: "B", StatusID: "2"},
		}

		groups := agg.GroupBySource(leads, nil)
		require.Len(t, groups, 2)
		assert.Equal(t, "B", groups[0].SourceID)
		assert.Equal(t, "A", groups[1].SourceID)
	})
}

func TestAggregator_GroupByEmployee(t *testing.T) {
	agg := newTestAggregator()

	users := []models.User{
		{ID: "7", Name: "Анна", LastName: "Иванова", Email: "anna@example.com", Position: "Менеджер", Active: true},
	}

	t.Run("SummaryAndNestedSources", func(t *testing.T) {
		leads := []models.Lead{
			{ID: "1", SourceID: "WEB", AssignedByID: "7", StatusID: "CONVERTED"},
			{ID: "2", SourceID: "WEB", AssignedByID: "7", StatusID: "UC_AD2OF7"},
			{ID: "3", SourceID: "CALL", AssignedByID: "7", StatusID: "JUNK"},
			{ID: "4", SourceID: "WEB", AssignedByID: "9", StatusID: "2"},
		}

		groups := agg.GroupByEmployee(leads, users, nil)
		require.Len(t, groups, 2)

		anna := groups[0]
		assert.Equal(t, "7", anna.Employee.ID)
		assert.Equal(t, "Анна Иванова", anna.Employee.Name)
		assert.True(t, anna.Employee.Active)
		assert.Equal(t, 3, anna.Employee.TotalLeads)
		assert.Equal(t, 1, anna.Employee.TotalMeetingsHeld)
		assert.Equal(t, 2, anna.Employee.TotalMeetingsScheduled)
		assert.Equal(t, 1, anna.Employee.TotalJunk)
		assert.Equal(t, "33.3", anna.Employee.OverallConversion)
		assert.Equal(t, "50.0", anna.Employee.MeetingsFromScheduledConversion)
		assert.Len(t, anna.Sources, 2)
	})

	t.Run("UnknownEmployeeGetsSyntheticName", func(t *testing.T) {
		leads := []models.Lead{{ID: "1", AssignedByID: "42", StatusID: "2"}}

		groups := agg.GroupByEmployee(leads, users, nil)
		require.Len(t, groups, 1)
		assert.Equal(t, "Сотрудник 42", groups[0].Employee.Name)
		assert.False(t, groups[0].Employee.Active)
	})
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "0.0", Percent(5, 0))
	assert.Equal(t, "0.0", Percent(0, 10))
	assert.Equal(t, "50.0", Percent(1, 2))
	assert.Equal(t, "33.3", Percent(1, 3))
	assert.Equal(t, "66.7", Percent(2, 3))
	assert.Equal(t, "100.0", Percent(10, 10))
}
