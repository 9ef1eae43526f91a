package firebolt

import (
	"regexp"
	"strings"
)

// fireboltToGenericType maps engine-native type names to the generic type
// vocabulary shared across drivers. Native 64-bit integers map to the
// arbitrary-precision generic numeric type.
var fireboltToGenericType = map[string]string{
	"DATETIME":    "timestamp",
	"TIMESTAMPTZ": "timestamp",
	"long":        "bigint",
}

// genericTypeToFirebolt is the reverse direction, used only when generating
// column definitions for table creation. Types without an entry pass through
// unchanged.
var genericTypeToFirebolt = map[string]string{
	"number":  "float",
	"decimal": "float",
	"time":    "timestamp",
}

// baseTypeToGenericType is the generic base mapping shared with other
// drivers, consulted after the engine-specific table misses.
var baseTypeToGenericType = map[string]string{
	"tinyint":          "int",
	"smallint":         "int",
	"int":              "int",
	"integer":          "int",
	"bigint":           "bigint",
	"float":            "float",
	"real":             "float",
	"double":           "double",
	"double precision": "double",
	"decimal":          "decimal",
	"numeric":          "decimal",
	"char":             "text",
	"varchar":          "text",
	"string":           "text",
	"text":             "text",
	"bool":             "boolean",
	"boolean":          "boolean",
	"date":             "date",
	"datetime":         "timestamp",
	"timestamp":        "timestamp",
	"timestamptz":      "timestamp",
	"time":             "time",
}

// wrappedTypeRegex recognizes exactly the two wrapper keywords and captures
// the inner type string.
var wrappedTypeRegex = regexp.MustCompile(`^(nullable|array)\((.*)\)$`)

// numericGenericTypes marks the generic types whose values are hydrated into
// decimal strings.
var numericGenericTypes = map[string]struct{}{
	"int":     {},
	"bigint":  {},
	"float":   {},
	"double":  {},
	"decimal": {},
	"number":  {},
}

// ToGenericType maps an engine-native type name to its generic type. Lookup
// order: exact match against the engine-specific table, then the wrapped-type
// unwrap path, then the shared base mapping with passthrough fallback.
func ToGenericType(columnType string) string {
	if generic, ok := fireboltToGenericType[columnType]; ok {
		return generic
	}
	if match := wrappedTypeRegex.FindStringSubmatch(columnType); match != nil {
		// The unwrap path only consults the inner type when the outer wrapped
		// form itself hits the table, which it cannot after the miss above.
		// TODO: resolve the inner type (match[2]) directly instead of
		// re-checking the outer form.
		if _, ok := fireboltToGenericType[columnType]; ok {
			if generic, ok := fireboltToGenericType[match[2]]; ok {
				return generic
			}
		}
	}
	return baseGenericType(columnType)
}

// FromGenericType maps a generic type to the engine-native DDL type used in
// column definitions. Unknown types pass through unchanged.
func FromGenericType(genericType string) string {
	if native, ok := genericTypeToFirebolt[strings.ToLower(genericType)]; ok {
		return native
	}
	return genericType
}

func baseGenericType(columnType string) string {
	if generic, ok := baseTypeToGenericType[strings.ToLower(columnType)]; ok {
		return generic
	}
	return columnType
}

// isNumericType reports whether values of the given native column type need
// decimal-string hydration. A nullable wrapper is transparent here; array
// values are never single numerics.
func isNumericType(columnType string) bool {
	t := columnType
	if match := wrappedTypeRegex.FindStringSubmatch(t); match != nil && match[1] == "nullable" {
		t = match[2]
	}
	_, ok := numericGenericTypes[ToGenericType(t)]
	return ok
}
