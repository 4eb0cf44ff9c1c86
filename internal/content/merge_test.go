package content

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func strptr(s string) *string { return &s }

func introFooterDoc() *Document {
	return &Document{Blocks: []Block{
		{Kind: KindIntroText, HTML: "<p>A</p>"},
		{Kind: KindFooterText, HTML: "<p>B</p>"},
	}}
}

func TestMergeAbsentFieldsCarryBlocks(t *testing.T) {
	got := Merge(introFooterDoc(), Update{})
	if got == nil || len(got.Blocks) != 2 {
		t.Fatalf("empty update changed the document: %+v", got)
	}
	if got.Blocks[0].HTML != "<p>A</p>" || got.Blocks[1].HTML != "<p>B</p>" {
		t.Fatalf("blocks not carried unchanged: %+v", got.Blocks)
	}
}

func TestMergeReplaceAndAppend(t *testing.T) {
	doc := &Document{Blocks: []Block{{Kind: KindIntroText, HTML: "<p>old</p>"}}}
	got := Merge(doc, Update{
		IntroHTML:  strptr("<p>new</p>"),
		FooterHTML: strptr("<p>foot</p>"),
	})
	if len(got.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(got.Blocks))
	}
	if got.Blocks[0].Kind != KindIntroText || got.Blocks[0].HTML != "<p>new</p>" {
		t.Errorf("intro not replaced in place: %+v", got.Blocks[0])
	}
	if got.Blocks[1].Kind != KindFooterText || got.Blocks[1].HTML != "<p>foot</p>" {
		t.Errorf("footer not appended: %+v", got.Blocks[1])
	}
}

// Spec'd scenario: intro cleared with "", footer left unaddressed.
func TestMergeClearIntroKeepsFooter(t *testing.T) {
	got := Merge(introFooterDoc(), Update{IntroHTML: strptr("")})
	if len(got.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(got.Blocks))
	}
	if got.Blocks[0].Kind != KindFooterText || got.Blocks[0].HTML != "<p>B</p>" {
		t.Fatalf("footer lost: %+v", got.Blocks[0])
	}
}

func TestMergeWhitespaceOnlyClears(t *testing.T) {
	got := Merge(introFooterDoc(), Update{IntroHTML: strptr("   \n\t")})
	if b := got.Block(KindIntroText); b != nil {
		t.Fatalf("whitespace-only intro should clear the block, got %+v", b)
	}
}

func TestMergeRoleCardsNullClears(t *testing.T) {
	doc := introFooterDoc()
	doc.Blocks = append(doc.Blocks, Block{Kind: KindRoleCards, RoleCards: &RoleCards{ID: "rc1", Layout: "grid", Columns: 3}})

	got := Merge(doc, Update{RoleCards: RoleCardsPatch{Present: true}})
	if b := got.Block(KindRoleCards); b != nil {
		t.Fatalf("roleCards: null should remove the block")
	}
	if got.Block(KindIntroText) == nil || got.Block(KindFooterText) == nil {
		t.Fatalf("clearing role cards disturbed the text blocks: %+v", got.Blocks)
	}
}

// Updating only the role cards leaves the text blocks byte-identical.
func TestMergePreservesUnaddressedBlocks(t *testing.T) {
	before := introFooterDoc()
	got := Merge(before, Update{RoleCards: RoleCardsPatch{Present: true, Value: &RoleCards{
		ID:      "rc1",
		Layout:  "grid",
		Columns: 3,
		Cards:   []Card{{ID: "card1", Title: "On call", Body: "<p>Ring 111</p>"}},
	}}})

	for _, kind := range []Kind{KindIntroText, KindFooterText} {
		wantJSON, _ := json.Marshal(before.Block(kind))
		gotJSON, _ := json.Marshal(got.Block(kind))
		if string(wantJSON) != string(gotJSON) {
			t.Errorf("%s block changed: %s -> %s", kind, wantJSON, gotJSON)
		}
	}
	if got.Block(KindRoleCards) == nil {
		t.Fatalf("role cards block not added")
	}
}

func TestMergeIdempotent(t *testing.T) {
	updates := []Update{
		{},
		{IntroHTML: strptr("<p>hello</p>")},
		{IntroHTML: strptr(""), FooterHTML: strptr("<p>foot</p>")},
		{RoleCards: RoleCardsPatch{Present: true}},
		{RoleCards: RoleCardsPatch{Present: true, Value: &RoleCards{
			ID: "rc1", Layout: "row", Columns: 2,
			Cards: []Card{{ID: "c1", Title: "GP", Body: "b", OrderIndex: 9}, {ID: "c2", Title: "Nurse", Body: "b2"}},
		}}},
		// ids omitted entirely: the second application must reuse the ids
		// the first one generated instead of minting fresh ones
		{RoleCards: RoleCardsPatch{Present: true, Value: &RoleCards{
			Cards: []Card{{Title: "GP", Body: "b"}, {Title: "Nurse", Body: "b2"}},
		}}},
	}

	docs := []*Document{nil, introFooterDoc()}
	for _, doc := range docs {
		for i, u := range updates {
			once := Merge(doc, u)
			twice := Merge(once, u)
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("update %d not idempotent:\nonce:  %+v\ntwice: %+v", i, once, twice)
			}
		}
	}
}

func TestMergeReusesRoleCardIDsOnResubmission(t *testing.T) {
	payload := func(cards ...Card) Update {
		return Update{RoleCards: RoleCardsPatch{Present: true, Value: &RoleCards{Cards: cards}}}
	}

	once := Merge(nil, payload(Card{Title: "GP", Body: "b"}, Card{Title: "Nurse", Body: "b2"}))
	first := once.Block(KindRoleCards).RoleCards
	if first.ID == "" || first.Cards[0].ID == "" {
		t.Fatalf("first merge should mint ids, got %+v", first)
	}

	twice := Merge(once, payload(Card{Title: "GP", Body: "b"}, Card{Title: "Nurse", Body: "b2"}))
	second := twice.Block(KindRoleCards).RoleCards
	if second.ID != first.ID {
		t.Fatalf("block id churned: %q -> %q", first.ID, second.ID)
	}
	for i := range second.Cards {
		if second.Cards[i].ID != first.Cards[i].ID {
			t.Fatalf("card %d id churned: %q -> %q", i, first.Cards[i].ID, second.Cards[i].ID)
		}
	}

	grown := Merge(twice, payload(Card{Title: "GP", Body: "b"}, Card{Title: "Nurse", Body: "b2"}, Card{Title: "Reception", Body: "b3"}))
	third := grown.Block(KindRoleCards).RoleCards
	if third.Cards[0].ID != first.Cards[0].ID || third.Cards[1].ID != first.Cards[1].ID {
		t.Fatalf("existing card ids should survive growth: %+v", third.Cards)
	}
	if third.Cards[2].ID == "" || third.Cards[2].ID == first.Cards[0].ID || third.Cards[2].ID == first.Cards[1].ID {
		t.Fatalf("new card needs a fresh id, got %+v", third.Cards)
	}
}

func TestMergeEmptyToNilCollapse(t *testing.T) {
	got := Merge(introFooterDoc(), Update{IntroHTML: strptr(""), FooterHTML: strptr("")})
	if got != nil {
		t.Fatalf("document merged down to zero blocks should be nil, got %+v", got)
	}
}

func TestMergeKeepsExtraMetadata(t *testing.T) {
	doc := introFooterDoc()
	doc.Extra = map[string]json.RawMessage{"schemaVersion": json.RawMessage(`2`)}

	got := Merge(doc, Update{IntroHTML: strptr(""), FooterHTML: strptr("")})
	if got == nil {
		t.Fatal("document with unrelated metadata must not collapse to nil")
	}
	if len(got.Blocks) != 0 {
		t.Fatalf("expected empty block list, got %+v", got.Blocks)
	}
	if string(got.Extra["schemaVersion"]) != "2" {
		t.Fatalf("metadata lost: %+v", got.Extra)
	}

	raw, err := Encode(got)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(raw), `"blocks":[]`) {
		t.Fatalf("encoded document should keep blocks as []: %s", raw)
	}
}

func TestMergeNormalizesRoleCards(t *testing.T) {
	got := Merge(nil, Update{RoleCards: RoleCardsPatch{Present: true, Value: &RoleCards{
		Layout:  "diagonal",
		Columns: 7,
		Cards: []Card{
			{Title: "First", OrderIndex: 42},
			{ID: "keep-me", Title: "Second", OrderIndex: -1},
		},
	}}})

	rc := got.Block(KindRoleCards).RoleCards
	if rc.ID == "" {
		t.Error("missing block id should be generated")
	}
	if rc.Layout != "grid" || rc.Columns != 3 {
		t.Errorf("layout/columns not defaulted: %q/%d", rc.Layout, rc.Columns)
	}
	if rc.Cards[0].ID == "" {
		t.Error("missing card id should be generated")
	}
	if rc.Cards[1].ID != "keep-me" {
		t.Errorf("supplied card id replaced: %q", rc.Cards[1].ID)
	}
	if rc.Cards[0].OrderIndex != 0 || rc.Cards[1].OrderIndex != 1 {
		t.Errorf("order indexes not recomputed densely: %d, %d", rc.Cards[0].OrderIndex, rc.Cards[1].OrderIndex)
	}
}

func TestMergePassesUnknownKindsThrough(t *testing.T) {
	raw := json.RawMessage(`{"kind":"VIDEO_EMBED","url":"https://example.org/v.mp4","autoplay":false}`)
	var unknown Block
	if err := json.Unmarshal(raw, &unknown); err != nil {
		t.Fatalf("decode unknown block: %v", err)
	}
	doc := &Document{Blocks: []Block{unknown, {Kind: KindIntroText, HTML: "<p>A</p>"}}}

	got := Merge(doc, Update{IntroHTML: strptr("<p>B</p>")})
	if len(got.Blocks) != 2 {
		t.Fatalf("unknown block dropped: %+v", got.Blocks)
	}
	out, _ := json.Marshal(got.Blocks[0])
	if string(out) != string(raw) {
		t.Fatalf("unknown block not byte-identical:\nwant %s\ngot  %s", raw, out)
	}
}

func TestMergeDedupesDuplicateKnownKinds(t *testing.T) {
	doc := &Document{Blocks: []Block{
		{Kind: KindIntroText, HTML: "<p>first</p>"},
		{Kind: KindIntroText, HTML: "<p>second</p>"},
	}}
	got := Merge(doc, Update{})
	if len(got.Blocks) != 1 {
		t.Fatalf("kind uniqueness not restored: %+v", got.Blocks)
	}
	if got.Blocks[0].HTML != "<p>first</p>" {
		t.Fatalf("expected first occurrence kept, got %q", got.Blocks[0].HTML)
	}
}

func TestUpdateUnmarshalTriState(t *testing.T) {
	cases := []struct {
		name        string
		body        string
		wantIntro   *string
		wantPresent bool
		wantNilRC   bool
	}{
		{name: "all absent", body: `{}`, wantIntro: nil},
		{name: "intro empty", body: `{"introHtml":""}`, wantIntro: strptr("")},
		{name: "intro null reads as clear", body: `{"introHtml":null}`, wantIntro: strptr("")},
		{name: "intro set", body: `{"introHtml":"<p>x</p>"}`, wantIntro: strptr("<p>x</p>")},
		{name: "roleCards null", body: `{"roleCards":null}`, wantPresent: true, wantNilRC: true},
		{name: "roleCards payload", body: `{"roleCards":{"layout":"grid","columns":2,"cards":[]}}`, wantPresent: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var u Update
			if err := json.Unmarshal([]byte(tc.body), &u); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if (u.IntroHTML == nil) != (tc.wantIntro == nil) {
				t.Fatalf("intro presence = %v, want %v", u.IntroHTML != nil, tc.wantIntro != nil)
			}
			if u.IntroHTML != nil && *u.IntroHTML != *tc.wantIntro {
				t.Fatalf("intro = %q, want %q", *u.IntroHTML, *tc.wantIntro)
			}
			if u.RoleCards.Present != tc.wantPresent {
				t.Fatalf("roleCards present = %v, want %v", u.RoleCards.Present, tc.wantPresent)
			}
			if tc.wantPresent && tc.wantNilRC && u.RoleCards.Value != nil {
				t.Fatalf("roleCards value should be nil for explicit null")
			}
		})
	}
}

func TestFooterHTML(t *testing.T) {
	doc := &Document{Blocks: []Block{{Kind: KindFooterText, HTML: "<p>structured</p>"}}}
	if got := FooterHTML(doc, "legacy"); got != "<p>structured</p>" {
		t.Errorf("structured footer should win: %q", got)
	}
	if got := FooterHTML(nil, "Call reception on 0113 496 0000"); got != "<p>Call reception on 0113 496 0000</p>" {
		t.Errorf("legacy fallback wrong: %q", got)
	}
	if got := FooterHTML(nil, "a < b & c"); got != "<p>a &lt; b &amp; c</p>" {
		t.Errorf("legacy text not escaped: %q", got)
	}
	if got := FooterHTML(nil, "   "); got != "" {
		t.Errorf("blank legacy text should yield empty footer: %q", got)
	}

	// the fallback is display-only: the document itself is untouched
	if FooterHTML(&Document{Blocks: []Block{{Kind: KindIntroText, HTML: "x"}}}, "legacy") != "<p>legacy</p>" {
		t.Error("legacy fallback should apply when only non-footer blocks exist")
	}
}
