package funnel

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/avezor/funnelboard/pkg/models"
)

// displayDateLayout renders dates the way the dashboard shows them.
const displayDateLayout = "02.01.2006"

// Linker attributes won deals back to the lead that started them,
// matching on the shared contact.
type Linker struct {
	logger *zap.Logger
}

// NewLinker creates a sale linker.
func NewLinker(logger *zap.Logger) *Linker {
	return &Linker{logger: logger}
}

// LinkResult carries the linked sales together with linking quality
// statistics for the period.
type LinkResult struct {
	Sales []models.LinkedSale
	Stats models.LinkStats
}

// Link matches each sale to the earliest lead of its contact. Sales
// without a contact or whose contact has no leads keep the UNKNOWN
// attribution. Lead order within the input never changes the outcome:
// on equal creation timestamps the first lead seen wins.
func (l *Linker) Link(sales []models.Deal, leads []models.Lead) LinkResult {
	earliest := earliestLeadByContact(leads)
	l.logger.Info("lead index built for sale linking",
		zap.Int("contacts", len(earliest)),
		zap.Int("leads", len(leads)),
		zap.Int("sales", len(sales)))

	linked := make([]models.LinkedSale, 0, len(sales))
	byMethod := make(map[string]int)
	totalLinked := 0

	for _, sale := range sales {
		ls := l.linkOne(sale, earliest)
		byMethod[ls.LinkMethod]++
		if ls.SourceID != models.UnknownSourceID {
			totalLinked++
		}
		linked = append(linked, ls)
	}

	rate := 0
	if len(sales) > 0 {
		rate = int(math.Round(float64(totalLinked) / float64(len(sales)) * 100))
	}

	return LinkResult{
		Sales: linked,
		Stats: models.LinkStats{
			SuccessRate:    rate,
			TotalLinked:    totalLinked,
			ByMethod:       byMethod,
			DealCycleStats: cycleStats(linked),
		},
	}
}

func (l *Linker) linkOne(sale models.Deal, earliest map[string]models.Lead) models.LinkedSale {
	ls := models.LinkedSale{
		ID:          sale.ID,
		Title:       sale.Title,
		Opportunity: sale.RawAmount,
		Amount:      sale.Amount,
	}
	if !sale.CreatedAt.IsZero() {
		saleDate := sale.CreatedAt
		ls.SaleDate = &saleDate
	}
	ls.SaleDateFormatted = formatDisplayDate(ls.SaleDate)

	if !sale.HasContact() {
		ls.SourceID = models.UnknownSourceID
		ls.SourceName = models.UnknownSourceName
		ls.LinkMethod = models.LinkMethodNoContact
		ls.LeadDateFormatted = "Лид не найден"
		ls.DealCycle = "Нет данных"
		return ls
	}

	lead, ok := earliest[sale.ContactID]
	if !ok {
		ls.SourceID = models.UnknownSourceID
		ls.SourceName = models.UnknownSourceName
		ls.LinkMethod = models.LinkMethodNoLeadFound
		ls.LeadDateFormatted = "Лид не найден"
		ls.DealCycle = "Нет данных"
		return ls
	}

	ls.LinkMethod = models.LinkMethodContact
	ls.LinkedLeadID = lead.ID
	ls.SourceID = lead.SourceID
	if ls.SourceID == "" {
		ls.SourceID = models.UnknownSourceID
	}
	ls.SourceName = lead.SourceName
	if ls.SourceName == "" {
		ls.SourceName = models.UnknownSourceName
	}
	if !lead.CreatedAt.IsZero() {
		leadDate := lead.CreatedAt
		ls.LeadDate = &leadDate
	}
	ls.LeadDateFormatted = formatDisplayDate(ls.LeadDate)
	ls.DealCycle, ls.DealCycleDays = dealCycle(ls.LeadDate, ls.SaleDate)
	return ls
}

// earliestLeadByContact indexes leads by contact, keeping only the
// oldest lead of each.
func earliestLeadByContact(leads []models.Lead) map[string]models.Lead {
	index := make(map[string]models.Lead)
	for _, lead := range leads {
		if !lead.HasContact() {
			continue
		}
		existing, ok := index[lead.ContactID]
		if !ok || lead.CreatedAt.Before(existing.CreatedAt) {
			index[lead.ContactID] = lead
		}
	}
	return index
}

// dealCycle renders the lead-to-sale span as a human label and whole
// days. Spans that come out negative mean inconsistent CRM dates; they
// get a sentinel label and no day count.
func dealCycle(leadDate, saleDate *time.Time) (string, *int) {
	if leadDate == nil || saleDate == nil {
		return "Нет данных", nil
	}

	diff := saleDate.Sub(*leadDate)
	if diff < 0 {
		return "Ошибка дат", nil
	}

	days := int(diff.Hours() / 24)
	switch {
	case days == 0:
		hours := int(diff.Hours())
		if hours == 0 {
			return fmt.Sprintf("%d мин", int(diff.Minutes())), &days
		}
		return fmt.Sprintf("%d ч", hours), &days
	case days < 30:
		return fmt.Sprintf("%d дн", days), &days
	default:
		return fmt.Sprintf("%d мес", days/30), &days
	}
}

func formatDisplayDate(t *time.Time) string {
	if t == nil {
		return "Нет данных"
	}
	return t.Format(displayDateLayout)
}

// cycleStats aggregates avg/min/max over the sales carrying day data.
func cycleStats(sales []models.LinkedSale) *models.DealCycleStats {
	var sum, count int
	minDays, maxDays := math.MaxInt, math.MinInt
	for _, s := range sales {
		if s.DealCycleDays == nil {
			continue
		}
		d := *s.DealCycleDays
		sum += d
		count++
		if d < minDays {
			minDays = d
		}
		if d > maxDays {
			maxDays = d
		}
	}
	if count == 0 {
		return nil
	}
	return &models.DealCycleStats{
		AvgDays:            math.Round(float64(sum) / float64(count)),
		MinDays:            minDays,
		MaxDays:            maxDays,
		SalesWithCycleData: count,
	}
}

// GroupSalesBySource buckets linked sales per source with per-source
// totals and average cheque, sorted by sale count descending.
func GroupSalesBySource(sales []models.LinkedSale) []models.SourceSales {
	bySource := make(map[string]*models.SourceSales)
	order := make([]string, 0)

	for _, sale := range sales {
		sourceID := sale.SourceID
		if sourceID == "" {
			sourceID = models.UnknownSourceID
		}
		group, ok := bySource[sourceID]
		if !ok {
			group = &models.SourceSales{SourceID: sourceID, SourceName: sale.SourceName}
			bySource[sourceID] = group
			order = append(order, sourceID)
		}
		group.Sales = append(group.Sales, sale)
		group.TotalSales++
		group.TotalAmount += sale.Amount
	}

	groups := make([]models.SourceSales, 0, len(bySource))
	for _, sourceID := range order {
		group := bySource[sourceID]
		if group.TotalSales > 0 {
			group.AverageAmount = math.Round(group.TotalAmount / float64(group.TotalSales))
		}
		groups = append(groups, *group)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].TotalSales != groups[j].TotalSales {
			return groups[i].TotalSales > groups[j].TotalSales
		}
		return groups[i].SourceID < groups[j].SourceID
	})
	return groups
}
