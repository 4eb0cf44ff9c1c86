// Package content models the structured body of a handbook page as an
// ordered collection of kind-tagged blocks, and merges partial updates
// into it. It never talks to storage and never sanitizes HTML; callers do
// both.
package content

import (
	"encoding/json"
)

type Kind string

const (
	KindIntroText  Kind = "INTRO_TEXT"
	KindRoleCards  Kind = "ROLE_CARDS"
	KindFooterText Kind = "FOOTER_TEXT"
)

// Card is one entry in a ROLE_CARDS grid. OrderIndex is always recomputed
// from array position when a document is merged.
type Card struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	OrderIndex int    `json:"orderIndex"`
}

type RoleCards struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Layout  string `json:"layout"`
	Columns int    `json:"columns"`
	Cards   []Card `json:"cards"`
}

// Block is one tagged section of a page. Exactly one payload field is
// meaningful for the known kinds; blocks of kinds this package does not
// recognize keep their raw bytes and round-trip verbatim.
type Block struct {
	Kind      Kind
	HTML      string
	RoleCards *RoleCards
	raw       json.RawMessage
}

type htmlBlockJSON struct {
	Kind Kind   `json:"kind"`
	HTML string `json:"html"`
}

type roleCardsBlockJSON struct {
	Kind    Kind   `json:"kind"`
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Layout  string `json:"layout"`
	Columns int    `json:"columns"`
	Cards   []Card `json:"cards"`
}

func (b Block) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case KindIntroText, KindFooterText:
		return json.Marshal(htmlBlockJSON{Kind: b.Kind, HTML: b.HTML})
	case KindRoleCards:
		rc := b.RoleCards
		if rc == nil {
			rc = &RoleCards{}
		}
		return json.Marshal(roleCardsBlockJSON{
			Kind:    KindRoleCards,
			ID:      rc.ID,
			Title:   rc.Title,
			Layout:  rc.Layout,
			Columns: rc.Columns,
			Cards:   rc.Cards,
		})
	default:
		if len(b.raw) > 0 {
			return b.raw, nil
		}
		return json.Marshal(map[string]Kind{"kind": b.Kind})
	}
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	switch head.Kind {
	case KindIntroText, KindFooterText:
		var h htmlBlockJSON
		if err := json.Unmarshal(data, &h); err != nil {
			return err
		}
		*b = Block{Kind: h.Kind, HTML: h.HTML}
	case KindRoleCards:
		var rc roleCardsBlockJSON
		if err := json.Unmarshal(data, &rc); err != nil {
			return err
		}
		*b = Block{Kind: KindRoleCards, RoleCards: &RoleCards{
			ID:      rc.ID,
			Title:   rc.Title,
			Layout:  rc.Layout,
			Columns: rc.Columns,
			Cards:   rc.Cards,
		}}
	default:
		// keep the bytes so future block kinds survive a round trip
		*b = Block{Kind: head.Kind, raw: append(json.RawMessage(nil), data...)}
	}
	return nil
}

// Document is a decoded content document. Extra holds top-level keys other
// than "blocks" so that metadata written by other parts of the product is
// preserved across merges.
type Document struct {
	Blocks []Block
	Extra  map[string]json.RawMessage
}

// Block returns the first block of the given kind, or nil.
func (d *Document) Block(kind Kind) *Block {
	if d == nil {
		return nil
	}
	for i := range d.Blocks {
		if d.Blocks[i].Kind == kind {
			return &d.Blocks[i]
		}
	}
	return nil
}

// Decode parses a stored document. Anything unrecognizable decodes as nil:
// the composer's job is forward progress, not validation, so a malformed
// prior document is treated as "no prior blocks".
func Decode(raw json.RawMessage) *Document {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	// Canonical shape is an object with a "blocks" array; a bare array of
	// blocks is accepted for older rows that stored the array directly.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		var blocks []Block
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil
		}
		if len(blocks) == 0 {
			return nil
		}
		return &Document{Blocks: blocks}
	}

	doc := &Document{}
	for key, val := range fields {
		if key == "blocks" {
			if err := json.Unmarshal(val, &doc.Blocks); err != nil {
				doc.Blocks = nil
			}
			continue
		}
		if doc.Extra == nil {
			doc.Extra = make(map[string]json.RawMessage)
		}
		doc.Extra[key] = val
	}
	if len(doc.Blocks) == 0 && len(doc.Extra) == 0 {
		return nil
	}
	return doc
}

// Encode serializes a document for storage. A nil document encodes as nil,
// never as an empty object.
func Encode(doc *Document) (json.RawMessage, error) {
	if doc == nil {
		return nil, nil
	}
	blocks := doc.Blocks
	if blocks == nil {
		blocks = []Block{}
	}
	blocksJSON, err := json.Marshal(blocks)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]json.RawMessage, len(doc.Extra)+1)
	for key, val := range doc.Extra {
		fields[key] = val
	}
	fields["blocks"] = blocksJSON
	return json.Marshal(fields)
}
