// Package render implements the template renderer (C4): for a table's
// embeddable fields, picks the highest-priority non-empty rendering and
// substitutes {FieldName} placeholders with the stringified current field
// value.
//
// Grounded on the teacher's fmt.Sprintf-based string construction style seen
// throughout adapter/memory/markdown.go, but implemented with manual
// placeholder substitution rather than text/template, since text/template's
// {{ }} delimiter doesn't match this engine's {Field} wire format.
package render

import (
	"reflect"
	"strings"

	"github.com/dataengine/core/internal/domain"
)

// Render selects the embeddable fields of desc in descending-priority,
// declaration-order-tie-break order and returns the first non-empty
// rendering of entity e. Returns "" if every candidate renders empty.
func Render(desc *domain.Descriptor, e reflect.Value) string {
	for _, fd := range desc.EmbeddableFields() {
		rendered := substitute(fd.Flags.Format, desc, e)
		if strings.TrimSpace(rendered) != "" {
			return rendered
		}
	}
	return ""
}

// substitute replaces every {FieldName} placeholder in format with the
// stringified current value of that field on e. An unknown field name is
// left untouched (rendered placeholders aside, §4.4 only asks for
// known-field substitution).
func substitute(format string, desc *domain.Descriptor, e reflect.Value) string {
	var out strings.Builder
	i := 0
	for i < len(format) {
		open := strings.IndexByte(format[i:], '{')
		if open < 0 {
			out.WriteString(format[i:])
			break
		}
		out.WriteString(format[i : i+open])
		i += open

		close := strings.IndexByte(format[i:], '}')
		if close < 0 {
			out.WriteString(format[i:])
			break
		}
		name := format[i+1 : i+close]
		if fd, ok := fieldByName(desc, name); ok {
			out.WriteString(domain.Stringify(domain.FieldValue(e, fd)))
		} else {
			out.WriteString(format[i : i+close+1])
		}
		i += close + 1
	}
	return out.String()
}

func fieldByName(desc *domain.Descriptor, name string) (domain.FieldDescriptor, bool) {
	for _, fd := range desc.Fields {
		if fd.Name == name {
			return fd, true
		}
	}
	return domain.FieldDescriptor{}, false
}
