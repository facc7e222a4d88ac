// Package adsource talks to the ad library scraping API that exposes Meta's
// public Ad Library.
package adsource

import (
	"errors"
	"fmt"
	"time"
)

// ErrCreditsExhausted indicates the API account has no credits left.
var ErrCreditsExhausted = errors.New("ad library credits exhausted")

// ErrRateLimited indicates the API asked the client to slow down. Errors
// matching it may carry a Retry-After hint; see RateLimitError.
var ErrRateLimited = errors.New("ad library rate limited")

// RateLimitError carries the server's Retry-After hint. It matches
// ErrRateLimited under errors.Is.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("ad library rate limited, retry after %s", e.RetryAfter)
	}
	return "ad library rate limited"
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Ad is one creative from the ad library, flattened to the fields the tools
// surface. Carousel ads expand to one Ad per card.
type Ad struct {
	ID        string     `json:"ad_id"`
	PageName  string     `json:"page_name,omitempty"`
	MediaURL  string     `json:"media_url"`
	MediaType string     `json:"media_type"`
	Body      string     `json:"body,omitempty"`
	Title     string     `json:"title,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Platforms []string   `json:"platforms,omitempty"`
	// Links are the ad's destination URLs. Trimmed API responses omit the
	// link fields, so Links is populated only on untrimmed listings.
	Links []Link `json:"links,omitempty"`
}

// ExternalLinks returns the destinations that lead off Meta and Google
// properties.
func (a Ad) ExternalLinks() []Link {
	var external []Link
	for _, link := range a.Links {
		if !link.Internal {
			external = append(external, link)
		}
	}
	return external
}

// HasExternalLinks reports whether any destination is an external landing page.
func (a Ad) HasExternalLinks() bool {
	for _, link := range a.Links {
		if !link.Internal {
			return true
		}
	}
	return false
}

// AdsOptions narrow an ads listing or search.
type AdsOptions struct {
	// Limit caps the number of returned ads; zero means the default of 50.
	Limit int
	// Country is an optional two-letter filter, upper-cased before sending.
	Country string
	// IncludeInactive keeps ads whose end date has already passed.
	IncludeInactive bool
	// Untrimmed requests full ad records. The trimmed responses drop the
	// destination URL fields, so link analysis needs this.
	Untrimmed bool
}
