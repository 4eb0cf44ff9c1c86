package export

import (
	"context"
	"fmt"
	"html/template"

	"handbook/api/internal/content"
)

// DataStore defines the data access the exporter needs
type DataStore interface {
	GetPage(ctx context.Context, itemID string) (PageInfo, error)
	GetPageAt(ctx context.Context, itemID, revision string) (PageInfo, error)
}

// Service renders handbook pages into downloadable files
type Service struct {
	store   DataStore
	archive *Archive
}

// NewService creates a new export service. archive may be nil when object
// storage is not configured.
func NewService(store DataStore, archive *Archive) *Service {
	return &Service{store: store, archive: archive}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	var (
		info PageInfo
		err  error
	)
	if req.Revision == "" || req.Revision == "latest" {
		info, err = s.store.GetPage(ctx, req.ItemID)
	} else {
		info, err = s.store.GetPageAt(ctx, req.ItemID, req.Revision)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	doc := content.Decode(info.Content)
	contentHTML := BlocksToHTML(doc, info.LegacyFooterText)

	html, err := RenderPageHTML(TemplateData{
		Title:       info.Title,
		SurgeryName: info.SurgeryName,
		Author:      info.Author,
		UpdatedAt:   info.UpdatedAt,
		ContentHTML: template.HTML(contentHTML),
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	var res *Result
	switch req.Format {
	case FormatPDF:
		res, err = renderPDF(html, info.Title)
	case FormatDOC:
		res, err = renderDOC(html, info.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
	if err != nil {
		return nil, err
	}

	if s.archive != nil {
		s.archive.StoreAsync(req.ItemID, res)
	}
	return res, nil
}
