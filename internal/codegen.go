package internal

import (
	"fmt"
	"strings"
	"unicode"
)

// DiscoveredFieldSpec is the connector-agnostic shape GenerateBuilderModel
// consumes, mirroring connector/mongo.DiscoveredField without this package
// importing the connector (internal has no business depending on a storage
// driver). Connectors map their own discovery result into this shape.
type DiscoveredFieldSpec struct {
	Name      string
	FieldType string // one of the FieldBuilder type-method names: "String", "I64", "Vec(String)", ...
	Required  bool
	Unique    bool
	Indexed   bool
}

// DiscoveredModelSpec is one collection's worth of discovered fields, the
// unit GenerateBuilderModel turns into one Builder.Model(...) declaration.
type DiscoveredModelSpec struct {
	CollectionName string
	Fields         []DiscoveredFieldSpec
}

// ToExportedName converts a snake_case or lowercase name to an exported Go name.
// Example: "user_name" → "UserName", "email" → "Email"
func ToExportedName(name string) string {
	parts := strings.Split(name, "_")
	var result strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		// Handle common acronyms
		upper := strings.ToUpper(p)
		if isAcronym(upper) {
			result.WriteString(upper)
		} else {
			runes := []rune(p)
			runes[0] = unicode.ToUpper(runes[0])
			result.WriteString(string(runes))
		}
	}
	return result.String()
}

// SanitizeStructName converts a collection name to a singular exported Go struct name.
// Example: "blog_posts" → "BlogPost", "users" → "User"
func SanitizeStructName(collectionName string) string {
	singular := singularize(collectionName)
	return ToExportedName(singular)
}

// GenerateBuilderModel emits Go source for one `b.Model(...)` declaration
// built from a connector's discovery result. There is no struct-reflection
// registry in this design, so the
// generated entry point is the programmatic Builder API directly: the
// caller pastes the returned snippet into a `dataengine.NewBuilder()...`
// chain, or the discover command's output file is read and spliced by hand.
func GenerateBuilderModel(spec DiscoveredModelSpec) string {
	modelName := SanitizeStructName(spec.CollectionName)
	var b strings.Builder
	fmt.Fprintf(&b, "\tb.Model(%q, func(mb *dataengine.ModelBuilder) {\n", strings.ToLower(modelName))
	fmt.Fprintf(&b, "\t\tmb.Name(%q).URLSegment(%q)\n", modelName, spec.CollectionName)
	for _, f := range spec.Fields {
		fmt.Fprintf(&b, "\t\tmb.Field(%q, func(fb *dataengine.FieldBuilder) {\n", f.Name)
		fmt.Fprintf(&b, "\t\t\tfb.%s\n", fieldTypeMethod(f.FieldType))
		if !f.Required {
			b.WriteString("\t\t\tfb.Optional()\n")
		}
		if f.Unique {
			b.WriteString("\t\t\tfb.Unique()\n")
		} else if f.Indexed {
			b.WriteString("\t\t\tfb.Index()\n")
		}
		b.WriteString("\t\t})\n")
	}
	b.WriteString("\t})\n")
	return b.String()
}

// fieldTypeMethod turns a discovered kind name (including the "Vec(Inner)"
// shape inferArrayFieldType produces) into the matching FieldBuilder method
// call, falling back to String for anything a sampler couldn't resolve.
func fieldTypeMethod(kind string) string {
	if inner, ok := strings.CutPrefix(kind, "Vec("); ok {
		inner = strings.TrimSuffix(inner, ")")
		return fmt.Sprintf("Vec(dataengine.Scalar(dataengine.Type%s))", scalarTypeConst(inner))
	}
	switch kind {
	case "String", "I32", "I64", "F64", "Bool", "Decimal":
		return kind + "()"
	case "ObjectId":
		return "ObjectID()"
	default:
		return "String()"
	}
}

// scalarTypeConst maps a discovered kind name to its FieldType constant
// suffix (fieldtype.go's TypeXxx tags), used for Vec element types where no
// FieldBuilder convenience method exists for the inner scalar.
func scalarTypeConst(kind string) string {
	if kind == "ObjectId" {
		return "ObjectID"
	}
	return kind
}

// FormatFieldTag builds the `dataengine:"..."` struct tag value from field
// attributes discovered by sampling a live connector (see discover.go).
func FormatFieldTag(unique, index, required bool) string {
	var parts []string
	if unique {
		parts = append(parts, "unique")
	}
	if index {
		parts = append(parts, "index")
	}
	if required {
		parts = append(parts, "required")
	}
	return strings.Join(parts, ",")
}

// isAcronym returns true for common acronyms that should be all-caps.
func isAcronym(s string) bool {
	switch s {
	case "ID", "URL", "URI", "API", "HTTP", "HTTPS", "JSON", "XML", "SQL", "HTML", "CSS", "IP", "TCP", "UDP", "DNS":
		return true
	}
	return false
}

// singularize performs a simple singularization by stripping trailing "s".
// Handles common cases: "posts" → "post", "statuses" → "status", "categories" → "category"
func singularize(s string) string {
	if len(s) < 3 {
		return s
	}
	if strings.HasSuffix(s, "ies") {
		// "categories" → "category"
		return s[:len(s)-3] + "y"
	}
	if strings.HasSuffix(s, "ses") || strings.HasSuffix(s, "xes") || strings.HasSuffix(s, "zes") || strings.HasSuffix(s, "ches") || strings.HasSuffix(s, "shes") {
		// "statuses" → "status", "boxes" → "box"
		if strings.HasSuffix(s, "ches") || strings.HasSuffix(s, "shes") {
			return s[:len(s)-2]
		}
		return s[:len(s)-2]
	}
	if strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss") {
		return s[:len(s)-1]
	}
	return s
}
