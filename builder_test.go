package dataengine

import "testing"

func TestBuilderFinalizeSuccess(t *testing.T) {
	g := buildUserPostGraph(t)
	user, err := g.Model("user")
	if err != nil {
		t.Fatal(err)
	}
	if user.PrimaryIndex == nil || user.PrimaryIndex.Fields[0] != "id" {
		t.Error("user must have a resolved primary index on id")
	}
	if user.URLSegment != "users" {
		t.Errorf("URLSegment = %q, want users (pluralized)", user.URLSegment)
	}
	post, err := g.Model("post")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := post.Field("authorId"); !ok {
		t.Error("post must declare authorId")
	}
}

func TestBuilderFinalizeDataSet(t *testing.T) {
	b := NewBuilder()
	b.Model("user", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary() })
		mb.Field("name", func(fb *FieldBuilder) { fb.String().Required() })
	})
	b.DataSet("demo", func(db *DataSetBuilder) {
		db.Autoseed()
		db.Group("user", DataSetRecord{Name: "alice", Value: map[string]any{"name": "Alice"}})
	})
	g, err := b.Finalize()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	ds, err := g.DataSet("demo")
	if err != nil {
		t.Fatalf("DataSet: %v", err)
	}
	if !ds.Autoseed {
		t.Error("expected Autoseed to be true")
	}
	if len(ds.Groups) != 1 || ds.Groups[0].Model != "user" {
		t.Fatalf("unexpected groups: %+v", ds.Groups)
	}
	if len(g.DataSets()) != 1 {
		t.Errorf("DataSets() = %d, want 1", len(g.DataSets()))
	}
}

func TestBuilderFinalizeRejectsDataSetUnknownModel(t *testing.T) {
	b := NewBuilder()
	b.Model("user", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary() })
	})
	b.DataSet("demo", func(db *DataSetBuilder) {
		db.Group("nope", DataSetRecord{Name: "x", Value: map[string]any{}})
	})
	if _, err := b.Finalize(); err == nil {
		t.Fatal("expected an error for a dataset referencing an unknown model")
	}
}

func TestBuilderFinalizeRejectsFieldRedefinition(t *testing.T) {
	b := NewBuilder()
	b.Model("user", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary() })
		mb.Field("id", func(fb *FieldBuilder) { fb.String() })
	})
	if _, err := b.Finalize(); err == nil {
		t.Fatal("expected an error for a redefined field")
	}
}

func TestBuilderFinalizeRejectsMissingPrimary(t *testing.T) {
	b := NewBuilder()
	b.Model("user", func(mb *ModelBuilder) {
		mb.Field("name", func(fb *FieldBuilder) { fb.String() })
	})
	if _, err := b.Finalize(); err == nil {
		t.Fatal("expected an error for a model with no primary index")
	}
}

func TestBuilderFinalizeRejectsDanglingRelationModel(t *testing.T) {
	b := NewBuilder()
	b.Model("post", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary() })
		mb.Field("authorId", func(fb *FieldBuilder) { fb.ObjectID().Optional() })
		mb.Relation(NewRelation("author", "nonexistentModel", []string{"authorId"}, []string{"id"}, "posts", false, true))
	})
	if _, err := b.Finalize(); err == nil {
		t.Fatal("expected an error for a relation referencing an unknown model")
	}
}

func TestBuilderFinalizeRejectsFieldsReferencesLengthMismatch(t *testing.T) {
	b := NewBuilder()
	b.Model("user", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary() })
	})
	b.Model("post", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary() })
		mb.Field("authorId", func(fb *FieldBuilder) { fb.ObjectID().Optional() })
		mb.Relation(NewRelation("author", "user", []string{"authorId"}, []string{}, "posts", false, true))
	})
	if _, err := b.Finalize(); err == nil {
		t.Fatal("expected an error for mismatched fields/references lengths")
	}
}

func TestBuilderFinalizeRejectsIllegalDefault(t *testing.T) {
	b := NewBuilder()
	b.Model("user", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary() })
		mb.Field("tags", func(fb *FieldBuilder) {
			fb.Vec(Scalar(TypeString)).Optional()
			fb.Default(NewVec([]Value{NewString("x")}))
		})
	})
	if _, err := b.Finalize(); err == nil {
		t.Fatal("expected an error for an optional list field with a non-empty default")
	}
}

func TestBuilderFinalizeRejectsCompoundUniqueTooFewFields(t *testing.T) {
	b := NewBuilder()
	b.Model("membership", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary() })
		mb.Field("userId", func(fb *FieldBuilder) { fb.ObjectID().CompoundUnique("user_org") })
	})
	if _, err := b.Finalize(); err == nil {
		t.Fatal("expected an error for a compound-unique key with fewer than two fields")
	}
}

func TestBuilderFinalizeRejectsDanglingOpposite(t *testing.T) {
	b := NewBuilder()
	b.Model("user", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary() })
		mb.Relation(NewRelation("posts", "post", nil, nil, "missing", true, true))
	})
	b.Model("post", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary() })
		mb.Field("authorId", func(fb *FieldBuilder) { fb.ObjectID().Optional() })
		mb.Relation(NewRelation("author", "user", []string{"authorId"}, []string{"id"}, "posts", false, true))
	})
	if _, err := b.Finalize(); err == nil {
		t.Fatal("expected an error for an Opposite name with no matching relation on the peer model")
	}
}

func TestPluralSnakeCase(t *testing.T) {
	cases := map[string]string{
		"user":     "users",
		"category": "categories",
		"box":      "boxes",
		"day":      "days",
		"bus":      "buses",
	}
	for in, want := range cases {
		if got := pluralSnakeCase(in); got != want {
			t.Errorf("pluralSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestComputeOutputKeysExcludesWriteonly(t *testing.T) {
	b := NewBuilder()
	b.Model("user", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary() })
		mb.Field("password", func(fb *FieldBuilder) { fb.String().Writeonly() })
	})
	g, err := b.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	user, _ := g.Model("user")
	for _, k := range user.OutputKeys {
		if k == "password" {
			t.Fatal("a writeonly field must not appear in OutputKeys")
		}
	}
}

func TestComputeInputKeysExcludesReadonly(t *testing.T) {
	b := NewBuilder()
	b.Model("user", func(mb *ModelBuilder) {
		mb.Field("id", func(fb *FieldBuilder) { fb.ObjectID().Primary() })
		mb.Field("createdAt", func(fb *FieldBuilder) { fb.DateTime().Readonly() })
	})
	g, err := b.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	user, _ := g.Model("user")
	for _, k := range user.InputKeys {
		if k == "createdAt" {
			t.Fatal("a readonly field must not appear in InputKeys")
		}
	}
}
