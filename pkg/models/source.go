package models

import (
	"time"

	"github.com/google/uuid"
)

// LeadSource is a row of the lead source dictionary persisted in
// Postgres. BitrixID is the CRM's status identifier and the natural key
// for upserts.
type LeadSource struct {
	ID        uuid.UUID `db:"id" json:"id"`
	BitrixID  string    `db:"bitrix_id" json:"bitrixId"`
	Name      string    `db:"name" json:"name"`
	IsActive  bool      `db:"is_active" json:"isActive"`
	LastSync  time.Time `db:"last_sync" json:"lastSync"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
