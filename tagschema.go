package dataengine

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/dataengine/dataengine/internal"
)

// FromStruct is the tag-driven convenience layer on top of Builder.
// It covers the common case of a flat model with scalar fields; relations,
// properties, and pipelines still need the programmatic Builder.
//
// Recognized tag keys on a `dataengine:"..."` struct tag: primary, unique,
// index, required, readonly, writeonly, immutable (write-once),
// write_on_create, default=<value>, enum=a|b|c, min=<int>, max=<int>.
// Column name comes from the paired `db:"..."` tag, else snake_case(FieldName).
func FromStruct(mb *ModelBuilder, sample any) *ModelBuilder {
	t := reflect.TypeOf(sample)
	for _, sf := range internal.StructFields(t) {
		name := sf.Name
		tag := sf.Tag.Get("dataengine")
		dbName := sf.Tag.Get("db")
		opts := parseTagOptions(tag)

		mb.Field(name, func(fb *FieldBuilder) {
			applyKindFromReflectType(fb, sf.Type)
			if dbName != "" {
				fb.field.ColumnName = dbName
			}
			applyTagOptions(fb, opts)
		})
	}
	return mb
}

type tagOptions struct {
	primary       bool
	unique        bool
	index         bool
	required      bool
	readonly      bool
	writeonly     bool
	immutable     bool
	writeOnCreate bool
	min, max      *int
	enumVariants  []string
	defaultValue  string
	hasDefault    bool
}

func parseTagOptions(tag string) tagOptions {
	var o tagOptions
	if tag == "" {
		return o
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "primary":
			o.primary = true
		case part == "unique":
			o.unique = true
		case part == "index":
			o.index = true
		case part == "required":
			o.required = true
		case part == "readonly":
			o.readonly = true
		case part == "writeonly":
			o.writeonly = true
		case part == "immutable":
			o.immutable = true
		case part == "write_on_create":
			o.writeOnCreate = true
		case strings.HasPrefix(part, "min="):
			if n, err := strconv.Atoi(part[4:]); err == nil {
				o.min = &n
			}
		case strings.HasPrefix(part, "max="):
			if n, err := strconv.Atoi(part[4:]); err == nil {
				o.max = &n
			}
		case strings.HasPrefix(part, "enum="):
			o.enumVariants = strings.Split(part[5:], "|")
		case strings.HasPrefix(part, "default="):
			o.defaultValue = part[8:]
			o.hasDefault = true
		}
	}
	return o
}

func applyKindFromReflectType(fb *FieldBuilder, t reflect.Type) {
	if t.Kind() == reflect.Ptr {
		fb.Optional()
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		fb.Bool()
	case reflect.Int8:
		fb.I8()
	case reflect.Int16:
		fb.I16()
	case reflect.Int32:
		fb.I32()
	case reflect.Int, reflect.Int64:
		fb.I64()
	case reflect.Uint8:
		fb.U8()
	case reflect.Uint16:
		fb.U16()
	case reflect.Uint32:
		fb.U32()
	case reflect.Uint, reflect.Uint64:
		fb.U64()
	case reflect.Float32:
		fb.F32()
	case reflect.Float64:
		fb.F64()
	case reflect.String:
		fb.String()
	case reflect.Slice:
		// element type resolved structurally; scalar slices only for the
		// convenience layer.
		elemFB := newFieldBuilder("")
		applyKindFromReflectType(elemFB, t.Elem())
		fb.Vec(elemFB.field.Type)
	default:
		fb.String()
	}
}

func applyTagOptions(fb *FieldBuilder, o tagOptions) {
	if o.primary {
		fb.Primary()
	}
	if o.unique {
		fb.Unique()
	}
	if o.index {
		fb.Index()
	}
	if o.required {
		fb.Required()
	} else {
		fb.Optional()
	}
	if o.readonly {
		fb.Readonly()
	}
	if o.writeonly {
		fb.Writeonly()
	}
	if o.immutable {
		fb.WriteOnce()
	}
	if o.writeOnCreate {
		fb.WriteOnCreate()
	}
	if len(o.enumVariants) > 0 {
		fb.field.Type = EnumType(strings.Join(o.enumVariants, "|"))
	}
	if o.hasDefault {
		fb.Default(NewString(o.defaultValue))
	}
	if o.min != nil {
		fb.Append(minValidator(fb.field.Name, *o.min))
	}
	if o.max != nil {
		fb.Append(maxValidator(fb.field.Name, *o.max))
	}
}

// Append attaches an on_set validator built from min/max tag options.
func (fb *FieldBuilder) Append(t Transformer) *FieldBuilder {
	if fb.field.OnSet == nil {
		fb.field.OnSet = &Pipeline{}
	}
	fb.field.OnSet.Append(t)
	return fb
}

func minValidator(field string, min int) Transformer {
	return Validate(func(v Value, ctx Context) error {
		if isIntKind(v.Kind()) && v.Int() < int64(min) {
			return &Error{Kind: ErrKindValidationError, Field: field, Message: "Value is below minimum."}
		}
		return nil
	})
}

func maxValidator(field string, max int) Transformer {
	return Validate(func(v Value, ctx Context) error {
		if isIntKind(v.Kind()) && v.Int() > int64(max) {
			return &Error{Kind: ErrKindValidationError, Field: field, Message: "Value is above maximum."}
		}
		return nil
	})
}
