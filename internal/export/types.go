// Package export renders handbook pages to PDF and DOC downloads.
package export

import (
	"encoding/json"
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF Format = "pdf"
	FormatDOC Format = "doc"
)

// Request contains parameters for an export operation
type Request struct {
	ItemID   string
	Revision string // "" or "latest" for the current version, else a history hash
	Format   Format
}

// PageInfo holds everything needed to render one page for export.
type PageInfo struct {
	Title            string
	SurgeryName      string
	Author           string
	UpdatedAt        time.Time
	Content          json.RawMessage
	LegacyFooterText string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates page content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCDependencyMissing indicates DOC export runtime dependencies are unavailable.
	ErrDOCDependencyMissing = errors.New("export doc dependency missing")
)
