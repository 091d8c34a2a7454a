// Package store persists content documents. Two backends implement the same
// surface: a Sanity-style content API client and a Postgres documents table.
package store

import "time"

// Document is one stored content document. Fields carries the business
// attributes; ID, Type and the timestamps are store metadata.
type Document struct {
	ID        string
	Type      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Fields    map[string]any
}

const (
	TypePost = "post"
	TypeSite = "site"
)
