package core

import (
	"errors"
	"slices"
	"testing"
)

func testTemplate() Template {
	return Template{
		ID:     "t1",
		Name:   "Certificate",
		Width:  800,
		Height: 600,
		Elements: []Element{
			{ID: "title", Kind: KindText, Visible: true, Text: &TextContent{Text: "Hello {{name}}, you are {{age}}"}},
			{ID: "amount", Kind: KindText, Visible: true, FieldBinding: "amount", Text: &TextContent{Text: "placeholder"}},
			{ID: "static", Kind: KindText, Visible: true, Text: &TextContent{Text: "Thanks"}},
			{ID: "photo", Kind: KindImage, Visible: true, FieldBinding: "photo", Image: &ImageContent{Source: "placeholder.png"}},
			{ID: "frame", Kind: KindShape, Visible: true, Shape: &ShapeContent{Shape: "rect"}},
		},
	}
}

func TestTemplateValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Template)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Template) {}},
		{name: "zero width", mutate: func(t *Template) { t.Width = 0 }, wantErr: true},
		{name: "duplicate id", mutate: func(t *Template) { t.Elements[1].ID = "title" }, wantErr: true},
		{name: "missing id", mutate: func(t *Template) { t.Elements[0].ID = "" }, wantErr: true},
		{name: "kind without payload", mutate: func(t *Template) { t.Elements[0].Text = nil }, wantErr: true},
		{name: "two payloads", mutate: func(t *Template) { t.Elements[4].Text = &TextContent{} }, wantErr: true},
		{name: "unknown kind", mutate: func(t *Template) { t.Elements[2].Kind = "video" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := testTemplate()
			tt.mutate(&tmpl)
			err := tmpl.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTemplate) {
				t.Errorf("error %v does not wrap ErrInvalidTemplate", err)
			}
		})
	}
}

func TestTemplateApply_DoesNotModifySnapshot(t *testing.T) {
	tmpl := testTemplate()
	text := "changed"
	hidden := false

	out := tmpl.Apply(PatchSet{
		{ElementID: "title", Text: &text},
		{ElementID: "frame", Visible: &hidden},
		{ElementID: "photo", Image: &ResolvedImage{Ref: "x.png"}},
		{ElementID: "ghost", Visible: &hidden},
	})

	if out.Elements[0].Text.Text != "changed" {
		t.Errorf("patched text = %q", out.Elements[0].Text.Text)
	}
	if out.Elements[4].Visible {
		t.Error("frame should be hidden")
	}
	if out.Elements[3].Image.Resolved == nil {
		t.Error("photo should be resolved")
	}

	if tmpl.Elements[0].Text.Text != "Hello {{name}}, you are {{age}}" {
		t.Errorf("snapshot text changed to %q", tmpl.Elements[0].Text.Text)
	}
	if !tmpl.Elements[4].Visible {
		t.Error("snapshot visibility changed")
	}
	if tmpl.Elements[3].Image.Resolved != nil {
		t.Error("snapshot image changed")
	}
}

func TestTemplateApply_LaterPatchWins(t *testing.T) {
	tmpl := testTemplate()
	show, hide := true, false
	out := tmpl.Apply(PatchSet{
		{ElementID: "static", Visible: &hide},
		{ElementID: "static", Visible: &show},
	})
	if !out.Elements[2].Visible {
		t.Error("later patch should win")
	}
}

func TestTextPatches(t *testing.T) {
	tmpl := testTemplate()
	fields := IndexFields([]Field{
		{Name: "name", Type: FieldText, Format: FieldFormat{TextTransform: TransformUppercase}},
		{Name: "amount", Type: FieldNumber, Format: FieldFormat{Number: NumberFormat{Decimals: intPtr(2), Prefix: "$"}}},
	})
	record := Record{"name": "ana", "amount": "12.5"}

	got := map[string]string{}
	for _, p := range TextPatches(tmpl, record, fields) {
		got[p.ElementID] = *p.Text
	}

	want := map[string]string{
		"title":  "Hello ANA, you are {{age}}",
		"amount": "$12.50",
	}
	if len(got) != len(want) {
		t.Fatalf("patches = %v, want %v", got, want)
	}
	for id, text := range want {
		if got[id] != text {
			t.Errorf("%s = %q, want %q", id, got[id], text)
		}
	}
}

func TestTemplatePlaceholdersAndBindings(t *testing.T) {
	tmpl := testTemplate()

	if got, want := tmpl.Placeholders(), []string{"name", "age"}; !slices.Equal(got, want) {
		t.Errorf("Placeholders() = %v, want %v", got, want)
	}

	bindings := tmpl.Bindings()
	if bindings["amount"] != 1 || bindings["photo"] != 1 || len(bindings) != 2 {
		t.Errorf("Bindings() = %v", bindings)
	}
}

func TestTemplateFingerprint(t *testing.T) {
	a := testTemplate()
	b := testTemplate()

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("equal templates have different fingerprints")
	}
	if len(a.Fingerprint()) != 16 {
		t.Errorf("fingerprint %q is not 16 hex chars", a.Fingerprint())
	}

	b.Elements[2].Text.Text = "Thank you"
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("changed template kept its fingerprint")
	}
}

func TestTemplateClone_IsDeep(t *testing.T) {
	a := testTemplate()
	b := a.Clone()
	b.Elements[0].Text.Text = "other"
	b.Elements[4].Shape.Fill = "red"

	if a.Elements[0].Text.Text == "other" || a.Elements[4].Shape.Fill == "red" {
		t.Error("Clone shares payloads with the original")
	}
}
