package export

import (
	"fmt"
	"html"
	"strings"

	"handbook/api/internal/content"
)

// BlocksToHTML renders a page's block document as HTML for export. Block
// kinds this renderer does not know are skipped; they only round-trip
// through the API.
func BlocksToHTML(doc *content.Document, legacyFooterText string) string {
	var b strings.Builder

	if doc != nil {
		for _, block := range doc.Blocks {
			switch block.Kind {
			case content.KindIntroText:
				if strings.TrimSpace(block.HTML) != "" {
					b.WriteString(`<div class="intro">` + block.HTML + `</div>` + "\n")
				}
			case content.KindRoleCards:
				if block.RoleCards != nil && len(block.RoleCards.Cards) > 0 {
					writeRoleCards(&b, block.RoleCards)
				}
			case content.KindFooterText:
				// rendered last via the fallback-aware helper
			}
		}
	}

	footer := content.FooterHTML(doc, legacyFooterText)
	if strings.TrimSpace(footer) != "" {
		b.WriteString(`<div class="footer">` + footer + `</div>` + "\n")
	}

	return b.String()
}

func writeRoleCards(b *strings.Builder, rc *content.RoleCards) {
	layoutClass := "cards-grid"
	if rc.Layout == "row" {
		layoutClass = "cards-row"
	}
	if strings.TrimSpace(rc.Title) != "" {
		b.WriteString("<h2>" + html.EscapeString(rc.Title) + "</h2>\n")
	}
	fmt.Fprintf(b, `<div class="%s" style="--columns: %d">`+"\n", layoutClass, rc.Columns)
	for _, card := range rc.Cards {
		b.WriteString(`<div class="card">`)
		if strings.TrimSpace(card.Title) != "" {
			b.WriteString("<h3>" + html.EscapeString(card.Title) + "</h3>")
		}
		b.WriteString(card.Body)
		b.WriteString("</div>\n")
	}
	b.WriteString("</div>\n")
}
