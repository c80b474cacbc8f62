// Package export renders a study's structure as JSON, PDF or DOCX.
package export

import (
	"errors"
	"strings"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat maps a query value onto a format; empty means JSON.
func ParseFormat(value string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatJSON:
		return FormatJSON, true
	case FormatPDF:
		return FormatPDF, true
	case FormatDOCX:
		return FormatDOCX, true
	default:
		return "", false
	}
}

// Snapshot is the structural state of a study at one structure version.
type Snapshot struct {
	Study            SnapshotStudy      `json:"study"`
	Questions        []SnapshotQuestion `json:"questions"`
	StructureVersion int                `json:"structureVersion"`
	ExportedAt       time.Time          `json:"exportedAt"`
}

type SnapshotStudy struct {
	ID                  string   `json:"id"`
	OrgID               string   `json:"orgId"`
	CampaignID          string   `json:"campaignId,omitempty"`
	Name                string   `json:"name"`
	Status              string   `json:"status"`
	FunnelStage         string   `json:"funnelStage,omitempty"`
	PrimaryKPI          string   `json:"primaryKpi,omitempty"`
	SecondaryKPIs       []string `json:"secondaryKpis"`
	VendorProjectID     string   `json:"vendorProjectId,omitempty"`
	VendorTargetGroupID string   `json:"vendorTargetGroupId,omitempty"`
}

type SnapshotQuestion struct {
	ID             string           `json:"id"`
	Text           string           `json:"text"`
	QuestionType   string           `json:"questionType"`
	Order          int              `json:"order"`
	IsRandomized   bool             `json:"isRandomized"`
	IsMandatory    bool             `json:"isMandatory"`
	KPIAssociation string           `json:"kpiAssociation,omitempty"`
	Options        []SnapshotOption `json:"options"`
}

type SnapshotOption struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl,omitempty"`
	Order    int    `json:"order"`
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	ErrUnsupportedFormat     = errors.New("unsupported export format")
)
