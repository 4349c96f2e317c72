package internal

import (
	"strings"
	"testing"
)

func TestToExportedName(t *testing.T) {
	cases := map[string]string{
		"user_name": "UserName",
		"email":     "Email",
		"user_id":   "UserID",
		"api_key":   "APIKey",
	}
	for in, want := range cases {
		if got := ToExportedName(in); got != want {
			t.Errorf("ToExportedName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeStructName(t *testing.T) {
	cases := map[string]string{
		"blog_posts": "BlogPost",
		"users":      "User",
		"categories": "Category",
		"statuses":   "Status",
		"boxes":      "Box",
	}
	for in, want := range cases {
		if got := SanitizeStructName(in); got != want {
			t.Errorf("SanitizeStructName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatFieldTag(t *testing.T) {
	if got := FormatFieldTag(true, false, true); got != "unique,required" {
		t.Errorf("FormatFieldTag(true,false,true) = %q", got)
	}
	if got := FormatFieldTag(false, false, false); got != "" {
		t.Errorf("FormatFieldTag(false,false,false) = %q, want empty", got)
	}
}

func TestGenerateBuilderModel(t *testing.T) {
	spec := DiscoveredModelSpec{
		CollectionName: "blog_posts",
		Fields: []DiscoveredFieldSpec{
			{Name: "title", FieldType: "String", Required: true},
			{Name: "views", FieldType: "I64", Required: false, Indexed: true},
			{Name: "slug", FieldType: "String", Required: true, Unique: true},
			{Name: "tags", FieldType: "Vec(String)", Required: true},
		},
	}
	src := GenerateBuilderModel(spec)

	wantSubstrings := []string{
		`b.Model("blogpost", func(mb *dataengine.ModelBuilder) {`,
		`mb.Name("BlogPost").URLSegment("blog_posts")`,
		`mb.Field("title", func(fb *dataengine.FieldBuilder) {`,
		"fb.String()",
		"fb.Optional()",
		"fb.Unique()",
		"fb.Index()",
		"fb.Vec(dataengine.Scalar(dataengine.TypeString))",
	}
	for _, want := range wantSubstrings {
		if !strings.Contains(src, want) {
			t.Errorf("GenerateBuilderModel output missing %q; got:\n%s", want, src)
		}
	}
}
