package export

import (
	"context"
	"encoding/json"
	"fmt"
)

// document is a rendered study ready for a binary converter.
type document struct {
	Title  string
	Footer string
	HTML   string
}

type renderer func(ctx context.Context, doc document) (*Result, error)

// Service renders study snapshots. JSON is produced in process; PDF and DOCX
// need headless Chrome and pandoc on the host.
type Service struct {
	pdf  renderer
	docx renderer
}

func NewService() *Service {
	return &Service{pdf: renderPDF, docx: renderDOCX}
}

func (s *Service) Export(ctx context.Context, snap Snapshot, format Format) (*Result, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode snapshot: %w", err)
		}
		return &Result{
			Data:     data,
			Filename: sanitizeFilename(snap.Study.Name) + ".json",
			MimeType: "application/json",
		}, nil
	case FormatPDF, FormatDOCX:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	body, err := RenderStudyHTML(snap)
	if err != nil {
		return nil, fmt.Errorf("render study html: %w", err)
	}
	doc := document{
		Title:  snap.Study.Name,
		Footer: fmt.Sprintf("%s · structure v%d · %s", snap.Study.Name, snap.StructureVersion, snap.Study.Status),
		HTML:   body,
	}
	if format == FormatPDF {
		return s.pdf(ctx, doc)
	}
	return s.docx(ctx, doc)
}
