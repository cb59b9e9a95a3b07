package provider

import (
	"context"
	"errors"
	"fmt"
)

// RawProduct is one product as a vision model reports it, before any
// normalization. Field names follow the prompt's Italian JSON contract.
type RawProduct struct {
	Name          string  `json:"nome"`
	Brand         string  `json:"marca"`
	Category      string  `json:"categoria"`
	Price         string  `json:"prezzo"`
	OriginalPrice string  `json:"prezzo_originale"`
	Quantity      string  `json:"quantita"`
	Description   string  `json:"descrizione"`
	Confidence    float64 `json:"confidenza,omitempty"`
}

// Request carries the per-call extraction parameters.
type Request struct {
	SupermarketName string
	Page            int
	MaxProducts     int
}

// Client extracts products from a single page image. The credential is
// passed per call; clients hold no keys so the caller can rotate them.
type Client interface {
	Name() string
	Extract(ctx context.Context, imagePath string, key string, req Request) ([]RawProduct, error)
}

// FailureKind classifies provider errors for the retry policy.
type FailureKind int

const (
	// Transient failures (network, 5xx, timeouts) are retried in place.
	Transient FailureKind = iota
	// RateLimited triggers credential rotation, or backoff when the pool
	// has a single key.
	RateLimited
	// MalformedOutput means the model responded but the payload failed
	// parsing or validation; retried, a fresh completion usually parses.
	MalformedOutput
	// Fatal failures (auth, bad request) skip straight to the next
	// provider.
	Fatal
)

func (k FailureKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case MalformedOutput:
		return "malformed_output"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Failure is a classified provider error.
type Failure struct {
	Kind     FailureKind
	Provider string
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Provider, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure wraps err as a classified failure for the named provider.
func NewFailure(kind FailureKind, providerName string, err error) *Failure {
	return &Failure{Kind: kind, Provider: providerName, Err: err}
}

// KindOf extracts the failure classification, defaulting unclassified
// errors to Transient so they still get retried.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return Transient
}
