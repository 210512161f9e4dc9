// Package models holds the domain types shared across the funnel pipeline.
package models

import (
	"strings"
	"time"
)

// Lead is an inbound prospect record fetched from the CRM. It is an
// immutable snapshot; the CRM remains the source of truth.
type Lead struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	StatusID     string    `json:"statusId"`
	SourceID     string    `json:"sourceId"`
	SourceName   string    `json:"sourceName,omitempty"`
	AssignedByID string    `json:"assignedById"`
	ContactID    string    `json:"contactId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasContact reports whether the lead carries a usable contact reference.
// Bitrix uses "0" for an empty foreign key.
func (l Lead) HasContact() bool {
	return l.ContactID != "" && l.ContactID != "0"
}

// Deal is a sales-pipeline opportunity record fetched from the CRM.
type Deal struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	StageID    string    `json:"stageId"`
	CategoryID string    `json:"categoryId"`
	Amount     float64   `json:"amount"`
	RawAmount  string    `json:"opportunity"`
	ContactID  string    `json:"contactId"`
	LeadID     string    `json:"leadId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// HasContact reports whether the deal carries a usable contact reference.
func (d Deal) HasContact() bool {
	return d.ContactID != "" && d.ContactID != "0"
}

// User is a CRM user (employee) record.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	LastName string `json:"lastName"`
	Email    string `json:"email"`
	Position string `json:"position"`
	Active   bool   `json:"active"`
}

// FullName joins the user's first and last name, falling back to the ID
// for accounts with no name on record.
func (u User) FullName() string {
	full := strings.TrimSpace(strings.TrimSpace(u.Name) + " " + strings.TrimSpace(u.LastName))
	if full == "" {
		return u.ID
	}
	return full
}
