package models

import "time"

// Restaurant is the tenant whose public menu is being viewed. OwnerID is the
// dashboard user allowed to read its stats; zero means unassigned.
type Restaurant struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	OwnerID   int       `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
