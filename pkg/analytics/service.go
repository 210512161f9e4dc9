package analytics

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/avezor/funnelboard/pkg/bitrix"
	"github.com/avezor/funnelboard/pkg/events"
	"github.com/avezor/funnelboard/pkg/funnel"
	"github.com/avezor/funnelboard/pkg/models"
	"github.com/avezor/funnelboard/pkg/tracing"
)

// CRMClient is the slice of the Bitrix client the reports consume.
type CRMClient interface {
	FetchLeads(ctx context.Context, filter map[string]any) ([]models.Lead, error)
	FetchDeals(ctx context.Context, filter map[string]any) ([]models.Deal, error)
	FetchUsers(ctx context.Context) ([]models.User, error)
	FetchLeadsByContacts(ctx context.Context, contactIDs []string) ([]models.Lead, error)
}

// Config tunes the report pipelines.
type Config struct {
	SalesCategoryID        string
	SalesWonStageID        string
	LowConversionThreshold float64
	HighJunkThreshold      float64
}

// Service runs the analytics reports. Each request is self-contained:
// fetch, aggregate in memory, respond.
type Service struct {
	crm        CRMClient
	aggregator *funnel.Aggregator
	linker     *funnel.Linker
	names      funnel.NameResolver
	emitter    *events.Emitter
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates the analytics service. The resolver may be nil
// when no source dictionary is available.
func NewService(
	crm CRMClient,
	aggregator *funnel.Aggregator,
	linker *funnel.Linker,
	names funnel.NameResolver,
	emitter *events.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		crm:        crm,
		aggregator: aggregator,
		linker:     linker,
		names:      names,
		emitter:    emitter,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// ReportRequest carries the query parameters of a report call.
type ReportRequest struct {
	Period     Period
	StartDate  string
	EndDate    string
	SourceID   string
	EmployeeID string
}

const noLeadsNote = "Лиды не найдены за указанный период"

// SampleLead is a debug excerpt of one fetched lead.
type SampleLead struct {
	ID         string `json:"id"`
	SourceID   string `json:"sourceId"`
	StatusID   string `json:"statusId"`
	SourceName string `json:"sourceName"`
	ContactID  string `json:"contactId"`
}

// SourcesDebug is the diagnostic block of the sources report.
type SourcesDebug struct {
	Filters            map[string]any `json:"filters"`
	RequestedSources   string         `json:"requestedSources"`
	ActualPeriod       Period         `json:"actualPeriod"`
	TotalLeadsReceived int            `json:"totalLeadsReceived"`
	LeadsWithoutSource int            `json:"leadsWithoutSource"`
	SampleLeads        []SampleLead   `json:"sampleLeads"`
}

// SourcesReport is the response of the per-source funnel report.
type SourcesReport struct {
	Success           bool                 `json:"success"`
	Data              []models.SourceGroup `json:"data"`
	Period            DateRange            `json:"period"`
	TotalLeads        int                  `json:"totalLeads"`
	TotalMeetingsHeld int                  `json:"totalMeetingsHeld"`
	ProcessingTimeMs  int64                `json:"processingTimeMs"`
	Note              string               `json:"note,omitempty"`
	Debug             *SourcesDebug        `json:"debug,omitempty"`
}

func (s *Service) leadFilter(r DateRange, sourceID string) map[string]any {
	filter := map[string]any{
		">=DATE_CREATE": bitrix.FormatFilterTime(r.Start),
		"<=DATE_CREATE": bitrix.FormatFilterTime(r.End),
	}
	if sourceID != "" {
		// A comma-separated list selects several sources at once.
		ids := make([]string, 0)
		for _, id := range strings.Split(sourceID, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 1 {
			filter["SOURCE_ID"] = ids[0]
		} else if len(ids) > 1 {
			filter["SOURCE_ID"] = ids
		}
	}
	return filter
}

// Sources builds the per-source funnel report for the requested
// period.
func (s *Service) Sources(ctx context.Context, req ReportRequest) (*SourcesReport, error) {
	ctx, span := tracing.StartSpan(ctx, "analytics.Service.Sources")
	defer span.End()

	started := s.now()
	dateRange := ResolvePeriod(req.Period, req.StartDate, req.EndDate, started)
	filter := s.leadFilter(dateRange, req.SourceID)

	leads, err := s.crm.FetchLeads(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("fetch leads: %w", err)
	}

	report := &SourcesReport{
		Success: true,
		Data:    []models.SourceGroup{},
		Period:  dateRange,
	}
	if len(leads) == 0 {
		report.Note = noLeadsNote
		report.ProcessingTimeMs = s.now().Sub(started).Milliseconds()
		return report, nil
	}

	groups := s.aggregator.GroupBySource(leads, s.names)

	totalHeld := 0
	for _, g := range groups {
		totalHeld += g.MeetingsHeld
	}

	report.Data = groups
	report.TotalLeads = len(leads)
	report.TotalMeetingsHeld = totalHeld
	report.ProcessingTimeMs = s.now().Sub(started).Milliseconds()
	report.Debug = s.sourcesDebug(filter, req, leads)

	s.raiseAlerts(ctx, groups)
	s.emitter.EmitReportComputed(ctx, "sources", report.TotalLeads, report.ProcessingTimeMs)

	s.logger.Info("sources report computed",
		zap.Int("total_leads", report.TotalLeads),
		zap.Int("sources", len(groups)),
		zap.Int64("took_ms", report.ProcessingTimeMs))
	return report, nil
}

func (s *Service) sourcesDebug(filter map[string]any, req ReportRequest, leads []models.Lead) *SourcesDebug {
	withoutSource := 0
	for _, lead := range leads {
		if lead.SourceID == "" {
			withoutSource++
		}
	}

	samples := make([]SampleLead, 0, 3)
	for _, lead := range leads[:min(3, len(leads))] {
		samples = append(samples, SampleLead{
			ID:         lead.ID,
			SourceID:   lead.SourceID,
			StatusID:   lead.StatusID,
			SourceName: lead.SourceName,
			ContactID:  lead.ContactID,
		})
	}

	requested := req.SourceID
	if requested == "" {
		requested = "all"
	}
	return &SourcesDebug{
		Filters:            filter,
		RequestedSources:   requested,
		ActualPeriod:       req.Period,
		TotalLeadsReceived: len(leads),
		LeadsWithoutSource: withoutSource,
		SampleLeads:        samples,
	}
}

// raiseAlerts emits threshold events for sources converting too little
// or producing too much junk.
func (s *Service) raiseAlerts(ctx context.Context, groups []models.SourceGroup) {
	for _, g := range groups {
		if g.TotalLeads == 0 {
			continue
		}
		if conv, err := strconv.ParseFloat(g.MeetingsHeldConversion, 64); err == nil && conv < s.cfg.LowConversionThreshold {
			s.emitter.EmitLowConversionAlert(ctx, g.SourceID, g.SourceName, g.MeetingsHeldConversion, g.TotalLeads)
		}
		if junk, err := strconv.ParseFloat(g.JunkPercent, 64); err == nil && junk > s.cfg.HighJunkThreshold {
			s.emitter.EmitHighJunkAlert(ctx, g.SourceID, g.SourceName, g.JunkPercent, g.TotalLeads)
		}
	}
}

// EmployeesReport is the response of the per-manager report.
type EmployeesReport struct {
	Success           bool                   `json:"success"`
	Data              []models.EmployeeGroup `json:"data"`
	Period            DateRange              `json:"period"`
	TotalLeads        int                    `json:"totalLeads"`
	TotalEmployees    int                    `json:"totalEmployees"`
	TotalMeetingsHeld int                    `json:"totalMeetingsHeld"`
	AverageConversion string                 `json:"averageConversion"`
	ProcessingTimeMs  int64                  `json:"processingTimeMs"`
	Note              string                 `json:"note,omitempty"`
}

// Employees builds the per-manager funnel report.
func (s *Service) Employees(ctx context.Context, req ReportRequest) (*EmployeesReport, error) {
	ctx, span := tracing.StartSpan(ctx, "analytics.Service.Employees")
	defer span.End()

	started := s.now()
	dateRange := ResolvePeriod(req.Period, req.StartDate, req.EndDate, started)
	filter := s.leadFilter(dateRange, req.SourceID)
	if req.EmployeeID != "" {
		filter["ASSIGNED_BY_ID"] = req.EmployeeID
	}

	leads, err := s.crm.FetchLeads(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("fetch leads: %w", err)
	}

	report := &EmployeesReport{
		Success:           true,
		Data:              []models.EmployeeGroup{},
		Period:            dateRange,
		AverageConversion: "0.0",
	}
	if len(leads) == 0 {
		report.Note = noLeadsNote
		report.ProcessingTimeMs = s.now().Sub(started).Milliseconds()
		return report, nil
	}

	users, err := s.crm.FetchUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch users: %w", err)
	}

	groups := s.aggregator.GroupByEmployee(leads, users, s.names)

	totalHeld := 0
	for _, g := range groups {
		totalHeld += g.Employee.TotalMeetingsHeld
	}

	report.Data = groups
	report.TotalLeads = len(leads)
	report.TotalEmployees = len(groups)
	report.TotalMeetingsHeld = totalHeld
	report.AverageConversion = funnel.Percent(totalHeld, len(leads))
	report.ProcessingTimeMs = s.now().Sub(started).Milliseconds()

	s.emitter.EmitReportComputed(ctx, "employees", report.TotalLeads, report.ProcessingTimeMs)

	s.logger.Info("employees report computed",
		zap.Int("total_leads", report.TotalLeads),
		zap.Int("employees", report.TotalEmployees))
	return report, nil
}

// SalesTotals summarizes a sales report run.
type SalesTotals struct {
	TotalSales         int     `json:"totalSales"`
	TotalAmount        float64 `json:"totalAmount"`
	AverageAmount      float64 `json:"averageAmount"`
	LinkingSuccessRate int     `json:"linkingSuccessRate"`
}

// SalesBreakdownEntry is one line of the sales debug block.
type SalesBreakdownEntry struct {
	Source string  `json:"source"`
	Sales  int     `json:"sales"`
	Amount float64 `json:"amount"`
}

// SalesDebug is the diagnostic block of the sales report.
type SalesDebug struct {
	SalesFound     int                   `json:"salesFound"`
	UniqueContacts int                   `json:"uniqueContacts"`
	LeadsFound     int                   `json:"leadsFound"`
	LinkedSales    int                   `json:"linkedSales"`
	UnknownSales   int                   `json:"unknownSales"`
	LinkingStats   models.LinkStats      `json:"linkingStats"`
	SalesBreakdown []SalesBreakdownEntry `json:"salesBreakdown"`
}

// SalesReport is the response of the sales attribution report.
type SalesReport struct {
	Success          bool                 `json:"success"`
	Data             []models.SourceSales `json:"data"`
	Period           DateRange            `json:"period"`
	Totals           SalesTotals          `json:"totals"`
	ProcessingTimeMs int64                `json:"processingTimeMs"`
	Note             string               `json:"note,omitempty"`
	Debug            *SalesDebug          `json:"debug,omitempty"`
}

// Sales builds the sales attribution report: won deals of the contract
// pipeline linked back to the lead sources that produced them.
func (s *Service) Sales(ctx context.Context, req ReportRequest) (*SalesReport, error) {
	ctx, span := tracing.StartSpan(ctx, "analytics.Service.Sales")
	defer span.End()

	started := s.now()
	dateRange := ResolvePeriod(req.Period, req.StartDate, req.EndDate, started)

	filter := map[string]any{
		"CATEGORY_ID":   s.cfg.SalesCategoryID,
		"STAGE_ID":      s.cfg.SalesWonStageID,
		">=DATE_CREATE": bitrix.FormatFilterTime(dateRange.Start),
		"<=DATE_CREATE": bitrix.FormatFilterTime(dateRange.End),
	}

	sales, err := s.crm.FetchDeals(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("fetch deals: %w", err)
	}

	report := &SalesReport{
		Success: true,
		Data:    []models.SourceSales{},
		Period:  dateRange,
	}
	if len(sales) == 0 {
		report.Note = "Продажи не найдены за указанный период"
		report.ProcessingTimeMs = s.now().Sub(started).Milliseconds()
		return report, nil
	}

	contactIDs := make([]string, 0, len(sales))
	for _, sale := range sales {
		if sale.HasContact() {
			contactIDs = append(contactIDs, sale.ContactID)
		}
	}

	var leads []models.Lead
	if len(contactIDs) > 0 {
		leads, err = s.crm.FetchLeadsByContacts(ctx, contactIDs)
		if err != nil {
			return nil, fmt.Errorf("fetch leads by contacts: %w", err)
		}
	}

	// Leads arrive without display names for their sources; fill them
	// from the dictionary before attribution.
	if s.names != nil {
		for i := range leads {
			if leads[i].SourceName == "" && leads[i].SourceID != "" {
				leads[i].SourceName = s.names(leads[i].SourceID)
			}
		}
	}

	result := s.linker.Link(sales, leads)

	var totalAmount float64
	unknown := 0
	for _, sale := range result.Sales {
		totalAmount += sale.Amount
		if sale.SourceID == models.UnknownSourceID {
			unknown++
		}
	}

	groups := funnel.GroupSalesBySource(result.Sales)

	breakdown := make([]SalesBreakdownEntry, 0, min(5, len(groups)))
	for _, g := range groups[:min(5, len(groups))] {
		breakdown = append(breakdown, SalesBreakdownEntry{
			Source: g.SourceName,
			Sales:  g.TotalSales,
			Amount: g.TotalAmount,
		})
	}

	report.Data = groups
	report.Totals = SalesTotals{
		TotalSales:         len(sales),
		TotalAmount:        math.Round(totalAmount),
		AverageAmount:      math.Round(totalAmount / float64(len(sales))),
		LinkingSuccessRate: result.Stats.SuccessRate,
	}
	report.ProcessingTimeMs = s.now().Sub(started).Milliseconds()
	report.Debug = &SalesDebug{
		SalesFound:     len(sales),
		UniqueContacts: len(uniqueStrings(contactIDs)),
		LeadsFound:     len(leads),
		LinkedSales:    len(result.Sales) - unknown,
		UnknownSales:   unknown,
		LinkingStats:   result.Stats,
		SalesBreakdown: breakdown,
	}

	s.emitter.EmitReportComputed(ctx, "sales", len(sales), report.ProcessingTimeMs)

	s.logger.Info("sales report computed",
		zap.Int("sales", len(sales)),
		zap.Int("linked", report.Debug.LinkedSales),
		zap.Int("success_rate", result.Stats.SuccessRate))
	return report, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
