// Package policy holds the coverage domain: policies bought against a
// merchant endpoint, their premiums and their lifecycle. A policy is
// active from purchase until it either expires, or a paid claim marks it
// claimed. Transitions are monotonic; a claimed or expired policy never
// becomes active again.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("policy not found")
	ErrExpired        = errors.New("policy expired")
	ErrAlreadyClaimed = errors.New("policy already claimed")
	ErrNotActive      = errors.New("policy not active")
	ErrValidation     = errors.New("validation error")
)

type Status string

const (
	StatusActive  Status = "active"
	StatusClaimed Status = "claimed"
	StatusExpired Status = "expired"
)

// Policy covers a single merchant endpoint for a single payer. Amounts
// are settlement-asset base units.
type Policy struct {
	ID             string    `json:"id"`
	Payer          string    `json:"payer"`
	MerchantURL    string    `json:"merchantUrl"`
	MerchantHash   string    `json:"merchantHash"`
	CoverageUnits  int64     `json:"coverageUnits"`
	PremiumUnits   int64     `json:"premiumUnits"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	RenewalCount   int       `json:"renewalCount"`
	TotalPaidUnits int64     `json:"totalPaidUnits"`
}

// Claimable reports whether a claim may be opened against the policy at
// the given instant.
func (p Policy) Claimable(now time.Time) error {
	switch p.Status {
	case StatusClaimed:
		return ErrAlreadyClaimed
	case StatusExpired:
		return ErrExpired
	}
	if now.After(p.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// MerchantHash is the stable identifier for a covered endpoint: the hex
// sha256 of the trimmed URL. Stored alongside the URL so lookups never
// depend on URL normalization quirks.
func MerchantHash(rawURL string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(rawURL)))
	return hex.EncodeToString(sum[:])
}
