package funnel

import (
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/avezor/funnelboard/pkg/models"
)

// NoSourceKey groups leads whose CRM record carries no source at all.
const NoSourceKey = "NO_SOURCE"

// NameResolver maps a source identifier to its display name. Resolvers
// that cannot answer should return an empty string.
type NameResolver func(sourceID string) string

// Aggregator folds classified leads into the per-source and
// per-employee report rows.
type Aggregator struct {
	table  *StageTable
	logger *zap.Logger
}

// NewAggregator creates an aggregator over the given stage table.
func NewAggregator(table *StageTable, logger *zap.Logger) *Aggregator {
	return &Aggregator{table: table, logger: logger}
}

// stageCounts holds the raw per-stage tally of one lead group.
type stageCounts struct {
	counts  map[Stage]int
	unknown int
	total   int
}

func (a *Aggregator) countStages(leads []models.Lead) stageCounts {
	sc := stageCounts{counts: make(map[Stage]int), total: len(leads)}
	for _, lead := range leads {
		stage, ok := a.table.Classify(lead.StatusID)
		if !ok {
			sc.unknown++
			a.logger.Warn("lead status not mapped to a funnel stage",
				zap.String("lead_id", lead.ID),
				zap.String("status_id", lead.StatusID))
			continue
		}
		sc.counts[stage]++
	}
	return sc
}

// GroupBySource partitions leads by source and computes a report row
// per group. Leads without a source land under NO_SOURCE. Groups come
// back sorted by lead count descending, source id ascending on ties.
func (a *Aggregator) GroupBySource(leads []models.Lead, resolve NameResolver) []models.SourceGroup {
	bySource := make(map[string][]models.Lead)
	for _, lead := range leads {
		key := lead.SourceID
		if key == "" {
			key = NoSourceKey
		}
		bySource[key] = append(bySource[key], lead)
	}

	grouped := 0
	groups := make([]models.SourceGroup, 0, len(bySource))
	for sourceID, sourceLeads := range bySource {
		groups = append(groups, a.buildSourceGroup(sourceID, sourceLeads, resolve))
		grouped += len(sourceLeads)
	}
	if grouped != len(leads) {
		a.logger.Error("lead count changed during source grouping",
			zap.Int("received", len(leads)),
			zap.Int("grouped", grouped))
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].TotalLeads != groups[j].TotalLeads {
			return groups[i].TotalLeads > groups[j].TotalLeads
		}
		return groups[i].SourceID < groups[j].SourceID
	})
	return groups
}

func (a *Aggregator) buildSourceGroup(sourceID string, leads []models.Lead, resolve NameResolver) models.SourceGroup {
	sc := a.countStages(leads)

	comments := sc.counts[StageCommunication] + sc.counts[StageNoResponse] + sc.counts[StageLongNoCall]
	meetingsHeld := sc.counts[StageConverted]
	// A held meeting was necessarily scheduled first, so the reported
	// scheduled total always includes the held ones.
	scheduledTotal := sc.counts[StageMeetingsScheduled] + meetingsHeld
	qualified := sc.counts[StageQualified]
	junk := sc.counts[StageJunk]

	// Budget segmentation is not tracked in the portal yet; every lead
	// counts toward the under-250k bucket.
	under250k := len(leads)

	return models.SourceGroup{
		SourceID:   sourceID,
		SourceName: a.resolveName(sourceID, resolve),
		TotalLeads: len(leads),

		MeetingsHeld:                        meetingsHeld,
		Comments:                            comments,
		CommentsConversion:                  Percent(comments, sc.total),
		Qualified:                           qualified,
		QualifiedConversion:                 Percent(qualified, sc.total),
		MeetingsScheduled:                   scheduledTotal,
		MeetingsScheduledConversion:         Percent(scheduledTotal, sc.total),
		MeetingsHeldConversion:              Percent(meetingsHeld, sc.total),
		MeetingsHeldFromScheduledConversion: Percent(meetingsHeld, scheduledTotal),
		Junk:                                junk,
		JunkPercent:                         Percent(junk, sc.total),
		Under250k:                           under250k,
		Under250kPercent:                    Percent(under250k, sc.total),

		StageAnalysis: models.StageBreakdown{
			New:               sc.counts[StageNew],
			Qualified:         qualified,
			Converted:         sc.counts[StageConverted],
			Communication:     comments,
			MeetingsScheduled: sc.counts[StageMeetingsScheduled],
			Junk:              junk,
			Unknown:           sc.unknown,
		},
	}
}

func (a *Aggregator) resolveName(sourceID string, resolve NameResolver) string {
	if sourceID == NoSourceKey {
		return "Без источника"
	}
	if resolve != nil {
		if name := resolve(sourceID); name != "" {
			return name
		}
	}
	return fmt.Sprintf("Источник %s", sourceID)
}

// GroupByEmployee partitions leads by assigned manager, with each
// manager's own per-source breakdown nested inside. Managers missing
// from the user directory still get a group under a synthetic name.
func (a *Aggregator) GroupByEmployee(leads []models.Lead, users []models.User, resolve NameResolver) []models.EmployeeGroup {
	byUser := make(map[string]models.User, len(users))
	for _, u := range users {
		byUser[u.ID] = u
	}

	byEmployee := make(map[string][]models.Lead)
	for _, lead := range leads {
		byEmployee[lead.AssignedByID] = append(byEmployee[lead.AssignedByID], lead)
	}

	groups := make([]models.EmployeeGroup, 0, len(byEmployee))
	for employeeID, employeeLeads := range byEmployee {
		sources := a.GroupBySource(employeeLeads, resolve)

		var held, scheduled, communication, junk int
		for _, s := range sources {
			held += s.MeetingsHeld
			scheduled += s.MeetingsScheduled
			communication += s.Comments
			junk += s.Junk
		}

		summary := models.EmployeeSummary{
			ID:   employeeID,
			Name: fmt.Sprintf("Сотрудник %s", employeeID),

			TotalLeads:             len(employeeLeads),
			TotalMeetingsHeld:      held,
			TotalMeetingsScheduled: scheduled,
			TotalCommunication:     communication,
			TotalJunk:              junk,

			OverallConversion:               Percent(held, len(employeeLeads)),
			MeetingsFromScheduledConversion: Percent(held, scheduled),
		}
		if u, ok := byUser[employeeID]; ok {
			summary.Name = u.FullName()
			summary.Email = u.Email
			summary.Position = u.Position
			summary.Active = u.Active
		}

		groups = append(groups, models.EmployeeGroup{Employee: summary, Sources: sources})
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Employee.TotalLeads != groups[j].Employee.TotalLeads {
			return groups[i].Employee.TotalLeads > groups[j].Employee.TotalLeads
		}
		return groups[i].Employee.ID < groups[j].Employee.ID
	})
	return groups
}

// Percent renders part/total as a percentage with exactly one decimal.
// Empty groups render as "0.0" rather than dividing by zero.
func Percent(part, total int) string {
	if total == 0 {
		return "0.0"
	}
	return strconv.FormatFloat(float64(part)/float64(total)*100, 'f', 1, 64)
}
