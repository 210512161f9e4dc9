// Package funnel classifies leads into conversion stages and aggregates
// them into the per-source and per-employee funnel views.
package funnel

// Stage identifies one step of the lead conversion funnel.
type Stage string

const (
	StageNew               Stage = "new"
	StageDistributed       Stage = "distributed"
	StageInWork            Stage = "inWork"
	StageCommunication     Stage = "communication"
	StageNoResponse        Stage = "noResponse"
	StageLongNoCall        Stage = "longNoCall"
	StageQualified         Stage = "qualified"
	StageMeetingsScheduled Stage = "meetingsScheduled"
	StageMeetingsFailed    Stage = "meetingsFailed"
	StageConverted         Stage = "converted"
	StageJunk              Stage = "junk"
)

// stageDef binds a stage to its CRM status identifiers and the display
// name the dashboard shows.
type stageDef struct {
	stage       Stage
	displayName string
	statusIDs   []string
}

// stageDefs is the funnel layout, ordered top to bottom. Junk collects
// every terminal rejection status the portal accumulated over the
// years.
var stageDefs = []stageDef{
	{StageNew, "Не обработан", []string{"2"}},
	{StageDistributed, "Распределен", []string{"NEW"}},
	{StageInWork, "В работе", []string{"4"}},
	{StageCommunication, "Коммуникация установлена", []string{"UC_WFIWVS"}},
	{StageNoResponse, "Не отвечает", []string{"UC_OMBROC"}},
	{StageLongNoCall, "Длительный недозвон", []string{"UC_VKCFXM"}},
	{StageQualified, "Квалификация проведена", []string{"6"}},
	{StageMeetingsScheduled, "Встреча назначена", []string{"UC_AD2OF7"}},
	{StageMeetingsFailed, "Несостоявшаяся встреча", []string{"UC_25C0T2"}},
	{StageConverted, "Обработка лида завершена", []string{"CONVERTED"}},
	{StageJunk, "Брак", []string{
		"JUNK", "11", "10", "9", "8", "5",
		"UC_GQ2A1A", "UC_32WMCS", "UC_XSGR98", "UC_NN9P5K",
		"UC_T7LX9V", "UC_C175EE", "UC_DFO4SC",
	}},
}

// StageTable maps CRM status identifiers to funnel stages. Build it
// once and share it; lookups never mutate state.
type StageTable struct {
	byStatus map[string]Stage
	names    map[Stage]string
	order    []Stage
}

// NewStageTable builds the classification table from the funnel layout.
func NewStageTable() *StageTable {
	t := &StageTable{
		byStatus: make(map[string]Stage),
		names:    make(map[Stage]string, len(stageDefs)),
		order:    make([]Stage, 0, len(stageDefs)),
	}
	for _, def := range stageDefs {
		t.names[def.stage] = def.displayName
		t.order = append(t.order, def.stage)
		for _, id := range def.statusIDs {
			t.byStatus[id] = def.stage
		}
	}
	return t
}

// Classify resolves a CRM status identifier to its funnel stage. The
// second return is false for statuses the funnel does not know.
func (t *StageTable) Classify(statusID string) (Stage, bool) {
	s, ok := t.byStatus[statusID]
	return s, ok
}

// DisplayName returns the dashboard label of a stage, or the stage key
// itself when no label is registered.
func (t *StageTable) DisplayName(s Stage) string {
	if name, ok := t.names[s]; ok {
		return name
	}
	return string(s)
}

// Stages returns the funnel stages in display order.
func (t *StageTable) Stages() []Stage {
	out := make([]Stage, len(t.order))
	copy(out, t.order)
	return out
}

// StatusIDs returns the CRM status identifiers mapped to a stage.
func (t *StageTable) StatusIDs(s Stage) []string {
	for _, def := range stageDefs {
		if def.stage == s {
			out := make([]string, len(def.statusIDs))
			copy(out, def.statusIDs)
			return out
		}
	}
	return nil
}
