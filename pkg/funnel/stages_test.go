package funnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageTable_Classify(t *testing.T) {
	table := NewStageTable()

	t.Run("CoreStatuses", func(t *testing.T) {
		cases := map[string]Stage{
			"2":         StageNew,
			"NEW":       StageDistributed,
			"4":         StageInWork,
			"UC_WFIWVS": StageCommunication,
			"UC_OMBROC": StageNoResponse,
			"UC_VKCFXM": StageLongNoCall,
			"6":         StageQualified,
			"UC_AD2OF7": StageMeetingsScheduled,
			"UC_25C0T2": StageMeetingsFailed,
			"CONVERTED": StageConverted,
		}

		for statusID, want := range cases {
			stage, ok := table.Classify(statusID)
			assert.True(t, ok, "status %s must classify", statusID)
			assert.Equal(t, want, stage)
		}
	})

	t.Run("JunkStatuses", func(t *testing.T) {
		junk := []string{
			"JUNK", "11", "10", "9", "8", "5",
			"UC_GQ2A1A", "UC_32WMCS", "UC_XSGR98", "UC_NN9P5K",
			"UC_T7LX9V", "UC_C175EE", "UC_DFO4SC",
		}
		for _, statusID := range junk {
			stage, ok := table.Classify(statusID)
			assert.True(t, ok)
			assert.Equal(t, StageJunk, stage)
		}
	})

	t.Run("UnknownStatus", func(t *testing.T) {
		_, ok := table.Classify("UC_SOMETHING_ELSE")
		assert.False(t, ok)

		_, ok = table.Classify("")
		assert.False(t, ok)
	})

	t.Run("EveryStatusMapsToExactlyOneStage", func(t *testing.T) {
		seen := make(map[string]Stage)
		for _, stage := range table.Stages() {
			for _, statusID := range table.StatusIDs(stage) {
				prev, dup := seen[statusID]
				assert.False(t, dup, "status %s mapped to both %s and %s", statusID, prev, stage)
				seen[statusID] = stage
			}
		}
	})
}

func TestStageTable_DisplayName(t *testing.T) {
	table := NewStageTable()

	assert.Equal(t, "Не обработан", table.DisplayName(StageNew))
	assert.Equal(t, "Встреча назначена", table.DisplayName(StageMeetingsScheduled))
	assert.Equal(t, "Брак", table.DisplayName(StageJunk))
	assert.Equal(t, "nonsense", table.DisplayName(Stage("nonsense")))
}
