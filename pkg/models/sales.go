package models

import "time"

// Link methods recorded on every sale after matching it back to a lead.
const (
	LinkMethodContact     = "CONTACT_ID"
	LinkMethodNoContact   = "NO_CONTACT"
	LinkMethodNoLeadFound = "NO_LEADS_FOUND"
)

// Fallback source attribution for sales that could not be linked.
const (
	UnknownSourceID   = "UNKNOWN"
	UnknownSourceName = "Неизвестный источник"
)

// LinkedSale is a won deal enriched with the lead it originated from.
// The raw Bitrix fields ride along uppercase so the dashboard can keep
// rendering them unchanged.
type LinkedSale struct {
	ID          string  `json:"ID"`
	Title       string  `json:"TITLE"`
	Opportunity string  `json:"OPPORTUNITY"`
	Amount      float64 `json:"amount"`

	SourceID     string `json:"sourceId"`
	SourceName   string `json:"sourceName"`
	LinkMethod   string `json:"linkMethod"`
	LinkedLeadID string `json:"linkedLeadId,omitempty"`

	LeadDate          *time.Time `json:"leadDate,omitempty"`
	LeadDateFormatted string     `json:"leadDateFormatted"`
	SaleDate          *time.Time `json:"saleDate,omitempty"`
	SaleDateFormatted string     `json:"saleDateFormatted"`

	// DealCycle carries the human label; DealCycleDays is nil when the
	// cycle could not be computed or came out negative.
	DealCycle     string `json:"dealCycle"`
	DealCycleDays *int   `json:"dealCycleDays"`
}

// SourceSales groups the linked sales of one source with their totals.
type SourceSales struct {
	SourceID      string       `json:"sourceId"`
	SourceName    string       `json:"sourceName"`
	TotalSales    int          `json:"totalSales"`
	TotalAmount   float64      `json:"totalAmount"`
	AverageAmount float64      `json:"averageAmount"`
	Sales         []LinkedSale `json:"sales"`
}

// DealCycleStats summarizes lead-to-sale duration across the sales
// that carry usable cycle data.
type DealCycleStats struct {
	AvgDays            float64 `json:"avgDays"`
	MinDays            int     `json:"minDays"`
	MaxDays            int     `json:"maxDays"`
	SalesWithCycleData int     `json:"salesWithCycleData"`
}

// LinkStats reports how well the sale linker did for the period.
type LinkStats struct {
	SuccessRate    int             `json:"successRate"`
	TotalLinked    int             `json:"totalLinked"`
	ByMethod       map[string]int  `json:"byMethod"`
	DealCycleStats *DealCycleStats `json:"dealCycleStats,omitempty"`
}
