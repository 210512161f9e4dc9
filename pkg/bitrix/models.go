package bitrix

import (
	"strconv"
	"strings"
	"time"

	"github.com/avezor/funnelboard/pkg/models"
)

// ListResponse is the paged envelope every crm.*.list method returns.
type ListResponse[T any] struct {
	Result []T  `json:"result"`
	Next   *int `json:"next,omitempty"`
	Total  *int `json:"total,omitempty"`
}

// leadRecord mirrors the crm.lead.list wire shape.
type leadRecord struct {
	ID                string `json:"ID"`
	Title             string `json:"TITLE"`
	StatusID          string `json:"STATUS_ID"`
	SourceID          string `json:"SOURCE_ID"`
	SourceDescription string `json:"SOURCE_DESCRIPTION"`
	AssignedByID      string `json:"ASSIGNED_BY_ID"`
	ContactID         string `json:"CONTACT_ID"`
	DateCreate        string `json:"DATE_CREATE"`
}

func (r leadRecord) toDomain() models.Lead {
	return models.Lead{
		ID:           r.ID,
		Title:        r.Title,
		StatusID:     r.StatusID,
		SourceID:     r.SourceID,
		SourceName:   r.SourceDescription,
		AssignedByID: r.AssignedByID,
		ContactID:    r.ContactID,
		CreatedAt:    parseBitrixTime(r.DateCreate),
	}
}

// dealRecord mirrors the crm.deal.list wire shape.
type dealRecord struct {
	ID          string `json:"ID"`
	Title       string `json:"TITLE"`
	StageID     string `json:"STAGE_ID"`
	CategoryID  string `json:"CATEGORY_ID"`
	Opportunity string `json:"OPPORTUNITY"`
	ContactID   string `json:"CONTACT_ID"`
	LeadID      string `json:"LEAD_ID"`
	DateCreate  string `json:"DATE_CREATE"`
}

func (r dealRecord) toDomain() models.Deal {
	amount, _ := strconv.ParseFloat(strings.TrimSpace(r.Opportunity), 64)
	return models.Deal{
		ID:         r.ID,
		Title:      r.Title,
		StageID:    r.StageID,
		CategoryID: r.CategoryID,
		Amount:     amount,
		RawAmount:  r.Opportunity,
		ContactID:  r.ContactID,
		LeadID:     r.LeadID,
		CreatedAt:  parseBitrixTime(r.DateCreate),
	}
}

// userRecord mirrors the user.get wire shape.
type userRecord struct {
	ID           string `json:"ID"`
	Name         string `json:"NAME"`
	LastName     string `json:"LAST_NAME"`
	Email        string `json:"EMAIL"`
	WorkPosition string `json:"WORK_POSITION"`
	Active       any    `json:"ACTIVE"`
}

// activeFlag handles both spellings the API produces: the REST list
// returns "Y"/"N" while some portals emit booleans.
func activeFlag(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "Y" || t == "true"
	default:
		return false
	}
}

func (r userRecord) toDomain() models.User {
	return models.User{
		ID:       r.ID,
		Name:     r.Name,
		LastName: r.LastName,
		Email:    r.Email,
		Position: r.WorkPosition,
		Active:   activeFlag(r.Active),
	}
}

// statusRecord mirrors crm.status.list entries; sources and lead
// stages share this shape.
type statusRecord struct {
	ID       string `json:"ID"`
	EntityID string `json:"ENTITY_ID"`
	StatusID string `json:"STATUS_ID"`
	Name     string `json:"NAME"`
	Sort     string `json:"SORT"`
}

// Source is one entry of the portal's source dictionary.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LeadStage is one entry of the portal's lead status dictionary.
type LeadStage struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// bitrixTimeLayouts covers the formats portals emit for DATE_CREATE.
var bitrixTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseBitrixTime parses a portal timestamp, returning the zero time
// for empty or unparseable values.
func parseBitrixTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range bitrixTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FormatFilterTime renders a date filter bound the way crm.*.list
// expects it.
func FormatFilterTime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05")
}
