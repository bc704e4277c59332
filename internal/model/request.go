// internal/model/request.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// Kind tags which entities a moderation request materializes on approval.
type Kind string

const (
	KindStreet   Kind = "street"
	KindPavilion Kind = "pavilion"
	KindAd       Kind = "ad"
)

var Kinds = []Kind{KindStreet, KindPavilion, KindAd}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", &ValidationError{Field: "kind", Reason: "unknown request kind " + s}
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Reason: "unknown status " + s}
}

// Payload carries the kind-specific fields of a request. Street requests use
// the Street* and Pavilion* fields, pavilion requests StreetID plus Pavilion*
// and Listing*, ad requests PavilionID plus Listing*.
type Payload struct {
	StreetName          string     `json:"street_name,omitempty"`
	StreetCode          string     `json:"street_code,omitempty"`
	StreetID            *uuid.UUID `json:"street_id,omitempty"`
	PavilionID          *uuid.UUID `json:"pavilion_id,omitempty"`
	PavilionTitle       string     `json:"pavilion_title,omitempty"`
	PavilionDescription string     `json:"pavilion_description,omitempty"`
	ListingTitle        string     `json:"listing_title,omitempty"`
	ListingText         string     `json:"listing_text,omitempty"`
}

type Request struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Kind         Kind       `db:"kind" json:"kind"`
	RequesterID  uuid.UUID  `db:"requester_id" json:"requester_id"`
	Payload      Payload    `db:"payload" json:"payload"`
	Status       Status     `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	DecidedAt    *time.Time `db:"decided_at" json:"decided_at,omitempty"`
	ResultLinkID *uuid.UUID `db:"result_link_id" json:"result_link_id,omitempty"`
}

type RequestFilter struct {
	Kind        Kind
	Status      Status
	RequesterID uuid.UUID
}

// StatusCounts is the per-status breakdown shown on moderation pages.
type StatusCounts struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

func (c *StatusCounts) Add(s Status) {
	c.AddN(s, 1)
}

// AddN counts n requests in status s.
func (c *StatusCounts) AddN(s Status, n int) {
	c.Total += n
	switch s {
	case StatusPending:
		c.Pending += n
	case StatusApproved:
		c.Approved += n
	case StatusRejected:
		c.Rejected += n
	}
}
