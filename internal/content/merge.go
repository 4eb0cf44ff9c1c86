package content

import (
	"encoding/json"
	"html"
	"strings"

	"handbook/api/internal/util"
)

// Update is a partial edit of a page. Each field is tri-state: key absent
// from the request (carry the existing block), key present but empty/null
// (remove the block), key present with content (replace or append).
// IntroHTML and FooterHTML use nil for "absent" and a blank string for
// "clear"; RoleCards needs the extra wrapper because a null and a missing
// key are different things on the wire.
type Update struct {
	IntroHTML  *string
	FooterHTML *string
	RoleCards  RoleCardsPatch
}

// RoleCardsPatch distinguishes "roleCards absent" (Present false),
// "roleCards: null" (Present true, Value nil) and a full payload.
type RoleCardsPatch struct {
	Present bool
	Value   *RoleCards
}

func (u *Update) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	intro, err := optionalHTML(fields, "introHtml")
	if err != nil {
		return err
	}
	footer, err := optionalHTML(fields, "footerHtml")
	if err != nil {
		return err
	}

	var patch RoleCardsPatch
	if raw, ok := fields["roleCards"]; ok {
		patch.Present = true
		if string(raw) != "null" {
			var rc RoleCards
			if err := json.Unmarshal(raw, &rc); err != nil {
				return err
			}
			patch.Value = &rc
		}
	}

	*u = Update{IntroHTML: intro, FooterHTML: footer, RoleCards: patch}
	return nil
}

func optionalHTML(fields map[string]json.RawMessage, key string) (*string, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, nil
	}
	// an explicit null reads the same as an empty string: clear the block
	if string(raw) == "null" {
		empty := ""
		return &empty, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Merge applies a partial update to a document and returns the next one.
// Blocks the update does not address are carried byte for byte, including
// blocks of kinds this package does not know about. The result keeps at
// most one block of each known kind, and collapses to nil when nothing is
// left and no unrelated document metadata exists.
func Merge(existing *Document, u Update) *Document {
	var prior []Block
	var extra map[string]json.RawMessage
	if existing != nil {
		prior = existing.Blocks
		extra = existing.Extra
	}

	next := make([]Block, 0, len(prior)+3)
	handled := make(map[Kind]bool, 3)

	for _, b := range prior {
		switch b.Kind {
		case KindIntroText:
			if handled[KindIntroText] {
				continue // duplicate known kind from a malformed document
			}
			handled[KindIntroText] = true
			if merged, keep := mergeHTMLBlock(b, u.IntroHTML); keep {
				next = append(next, merged)
			}
		case KindFooterText:
			if handled[KindFooterText] {
				continue
			}
			handled[KindFooterText] = true
			if merged, keep := mergeHTMLBlock(b, u.FooterHTML); keep {
				next = append(next, merged)
			}
		case KindRoleCards:
			if handled[KindRoleCards] {
				continue
			}
			handled[KindRoleCards] = true
			if !u.RoleCards.Present {
				next = append(next, b)
			} else if u.RoleCards.Value != nil {
				next = append(next, roleCardsBlock(u.RoleCards.Value, b.RoleCards))
			}
		default:
			next = append(next, b)
		}
	}

	if !handled[KindIntroText] && u.IntroHTML != nil && strings.TrimSpace(*u.IntroHTML) != "" {
		next = append(next, Block{Kind: KindIntroText, HTML: *u.IntroHTML})
	}
	if !handled[KindRoleCards] && u.RoleCards.Present && u.RoleCards.Value != nil {
		next = append(next, roleCardsBlock(u.RoleCards.Value, nil))
	}
	if !handled[KindFooterText] && u.FooterHTML != nil && strings.TrimSpace(*u.FooterHTML) != "" {
		next = append(next, Block{Kind: KindFooterText, HTML: *u.FooterHTML})
	}

	if len(next) == 0 && len(extra) == 0 {
		return nil
	}
	return &Document{Blocks: next, Extra: extra}
}

func mergeHTMLBlock(existing Block, update *string) (Block, bool) {
	if update == nil {
		return existing, true
	}
	if strings.TrimSpace(*update) == "" {
		return Block{}, false
	}
	return Block{Kind: existing.Kind, HTML: *update}, true
}

// roleCardsBlock normalizes a caller-supplied payload: OrderIndex is
// recomputed densely from array position regardless of what the caller
// sent, and layout/columns fall back to a 3-column grid when out of
// range. Omitted block and card ids are filled from the block being
// replaced, position for position, so resubmitting the same payload
// yields the same document; only genuinely new cards get fresh ids.
func roleCardsBlock(in, prior *RoleCards) Block {
	rc := RoleCards{
		ID:      in.ID,
		Title:   in.Title,
		Layout:  in.Layout,
		Columns: in.Columns,
	}
	if rc.ID == "" {
		if prior != nil && prior.ID != "" {
			rc.ID = prior.ID
		} else {
			rc.ID = util.NewID("blk")
		}
	}
	if rc.Layout != "row" {
		rc.Layout = "grid"
	}
	if rc.Columns < 2 || rc.Columns > 4 {
		rc.Columns = 3
	}
	rc.Cards = make([]Card, len(in.Cards))
	for i, c := range in.Cards {
		id := c.ID
		if id == "" && prior != nil && i < len(prior.Cards) {
			id = prior.Cards[i].ID
		}
		if id == "" {
			id = util.NewID("card")
		}
		rc.Cards[i] = Card{ID: id, Title: c.Title, Body: c.Body, OrderIndex: i}
	}
	return Block{Kind: KindRoleCards, RoleCards: &rc}
}

// FooterHTML returns the footer to display for a page: the FOOTER_TEXT
// block when one exists, otherwise the item's legacy plain-text footer
// escaped into a paragraph. The legacy text is display-only; it is never
// migrated into the document here.
func FooterHTML(doc *Document, legacyText string) string {
	if b := doc.Block(KindFooterText); b != nil {
		return b.HTML
	}
	if strings.TrimSpace(legacyText) == "" {
		return ""
	}
	return "<p>" + html.EscapeString(legacyText) + "</p>"
}
