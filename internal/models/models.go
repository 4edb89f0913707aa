package models

import (
	"strings"
	"time"
)

// ProcessingStatus is the canonical lifecycle status of a Document.
// Store these exact strings in the DB.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"    // stored, waiting for the worker
	StatusProcessing ProcessingStatus = "processing" // worker owns it
	StatusCompleted  ProcessingStatus = "completed"  // extraction produced test data
	StatusFailed     ProcessingStatus = "failed"     // every provider failed
	StatusDiscarded  ProcessingStatus = "discarded"  // no test data, or cancelled
)

// Terminal reports whether no automatic transition leaves this status.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDiscarded
}

// ValidStatus checks a caller-supplied status string.
func ValidStatus(s string) bool {
	switch ProcessingStatus(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusDiscarded:
		return true
	}
	return false
}

// ExtractionProvider identifies which backend produced the extraction.
type ExtractionProvider string

const (
	ProviderPrimary   ExtractionProvider = "primary"
	ProviderSecondary ExtractionProvider = "secondary"
	ProviderUnknown   ExtractionProvider = "unknown"
)

// Document represents a single ingested lab report file.
type Document struct {
	ID                 string             `db:"id" json:"id"`
	UploadedBy         string             `db:"uploaded_by" json:"uploaded_by"`
	FileName           string             `db:"file_name" json:"file_name"`
	FileKey            string             `db:"file_key" json:"file_key"`
	FileURL            string             `db:"file_url" json:"file_url"`
	MimeType           string             `db:"mime_type" json:"mime_type"`
	FileSizeBytes      int64              `db:"file_size_bytes" json:"file_size_bytes"`
	ContentHash        string             `db:"content_hash" json:"content_hash"`
	ProcessingStatus   ProcessingStatus   `db:"processing_status" json:"processing_status"`
	ProcessingError    string             `db:"processing_error" json:"processing_error,omitempty"`
	ExtractionProvider ExtractionProvider `db:"extraction_provider" json:"extraction_provider,omitempty"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	CompletedAt        *time.Time         `db:"completed_at" json:"completed_at,omitempty"`
}

// TestResult is one extracted test row from a lab report.
type TestResult struct {
	Name           string `json:"name"`
	Value          string `json:"value"`
	Unit           string `json:"unit,omitempty"`
	ReferenceRange string `json:"reference_range,omitempty"`
	Flag           string `json:"flag,omitempty"`
}

// ExtractionResult is the structured payload a provider returns for a report.
type ExtractionResult struct {
	PatientName string       `json:"patient_name"`
	PatientDOB  string       `json:"patient_dob,omitempty"`
	TestDate    string       `json:"test_date,omitempty"`
	LabName     string       `json:"lab_name,omitempty"`
	Tests       []TestResult `json:"tests"`
}

// HasTestData reports whether the extraction found anything usable. A report
// with no recognizable tests is discarded, not failed.
func (r *ExtractionResult) HasTestData() bool {
	if r == nil {
		return false
	}
	for _, t := range r.Tests {
		if strings.TrimSpace(t.Name) != "" {
			return true
		}
	}
	return false
}

// UploadToken is a permanent bearer token record for the unauthenticated
// quick-upload endpoint. Usage is counted on every accepted request.
type UploadToken struct {
	ID         string    `db:"id" json:"id"`
	TokenHash  string    `db:"token_hash" json:"-"`
	Label      string    `db:"label" json:"label"`
	OwnerID    string    `db:"owner_id" json:"owner_id"`
	UsageCount int64     `db:"usage_count" json:"usage_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
