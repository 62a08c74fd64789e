package domain

import (
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Op identifies the kind of write that produced a record.
type Op string

const (
	OpInsert Op = "Insert"
	OpUpdate Op = "Update"
	OpDelete Op = "Delete"
)

// FieldFlags holds the per-field cross-cutting declarations read from the
// `dataengine` struct tag.
//
// Integrity implies Tracked: the hash chain verifier reconstructs every
// non-terminal record's historical value from the change log, so an
// integrity-protected field with no change log entries would silently
// verify every record against the empty string. parseTag enforces this by
// setting Tracked whenever Integrity is set, regardless of what the tag
// itself spelled out.
type FieldFlags struct {
	Key        bool
	Tracked    bool
	Integrity  bool
	Timeseries bool
	Embeddable bool
	Format     string // only meaningful when Embeddable is set
	Priority   int    // only meaningful when Embeddable is set; higher wins
}

// FieldDescriptor describes one field of a registered entity type.
type FieldDescriptor struct {
	Name  string // Go struct field name, also the property name in bookkeeping records
	Index int    // struct field index, for reflect.Value.Field
	Flags FieldFlags
}

// Descriptor is the resolved, cached metadata for one registered entity type,
// built once at registration time by reading `dataengine` struct tags —
// never re-derived by reflection on the write hot path.
type Descriptor struct {
	TypeName string
	Key      FieldDescriptor
	Fields   []FieldDescriptor // declaration order, key field included
}

// TrackedFields returns the fields flagged tracked, in declaration order.
func (d *Descriptor) TrackedFields() []FieldDescriptor {
	return d.filterFields(func(f FieldFlags) bool { return f.Tracked })
}

// IntegrityFields returns the fields flagged integrity-protected, in declaration order.
func (d *Descriptor) IntegrityFields() []FieldDescriptor {
	return d.filterFields(func(f FieldFlags) bool { return f.Integrity })
}

// TimeseriesFields returns the fields flagged timeseries, in declaration order.
func (d *Descriptor) TimeseriesFields() []FieldDescriptor {
	return d.filterFields(func(f FieldFlags) bool { return f.Timeseries })
}

// EmbeddableFields returns the fields flagged embeddable, ordered by descending
// priority with declaration order as tie-break — the exact order §4.4 requires
// when selecting the first non-empty rendering.
func (d *Descriptor) EmbeddableFields() []FieldDescriptor {
	fields := d.filterFields(func(f FieldFlags) bool { return f.Embeddable })
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].Flags.Priority > fields[j].Flags.Priority
	})
	return fields
}

func (d *Descriptor) filterFields(pred func(FieldFlags) bool) []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(d.Fields))
	for _, f := range d.Fields {
		if pred(f.Flags) {
			out = append(out, f)
		}
	}
	return out
}

var descriptorCache sync.Map // reflect.Type -> *Descriptor

// BuildDescriptor resolves the Descriptor for entity type T by reading its
// `dataengine` struct tags once and caching the result, satisfying §9's "no
// runtime type introspection required at the hot path."
//
// Tag grammar: `dataengine:"key"`, `dataengine:"tracked,integrity,timeseries"`,
// `dataengine:"embed=priority:format"`, flags may be combined with commas and
// an embed directive may appear alongside the others.
func BuildDescriptor[T any]() *Descriptor {
	var zero T
	t := reflect.TypeOf(zero)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if cached, ok := descriptorCache.Load(t); ok {
		return cached.(*Descriptor)
	}

	desc := &Descriptor{TypeName: t.Name()}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("dataengine")
		if tag == "" {
			continue
		}
		fd := FieldDescriptor{Name: sf.Name, Index: i, Flags: parseTag(tag)}
		desc.Fields = append(desc.Fields, fd)
		if fd.Flags.Key {
			desc.Key = fd
		}
	}

	descriptorCache.Store(t, desc)
	return desc
}

func parseTag(tag string) FieldFlags {
	var flags FieldFlags
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "key":
			flags.Key = true
		case part == "tracked":
			flags.Tracked = true
		case part == "integrity":
			flags.Integrity = true
		case part == "timeseries":
			flags.Timeseries = true
		case strings.HasPrefix(part, "embed="):
			flags.Embeddable = true
			spec := strings.TrimPrefix(part, "embed=")
			// spec is "priority:format"; priority is optional.
			idx := strings.Index(spec, ":")
			if idx < 0 {
				flags.Format = spec
				continue
			}
			if p, err := strconv.Atoi(spec[:idx]); err == nil {
				flags.Priority = p
			}
			flags.Format = spec[idx+1:]
		}
	}
	if flags.Integrity {
		flags.Tracked = true
	}
	return flags
}

// FieldValue returns the current value of field fd on entity e via reflection.
// Reflection here is on the already-resolved FieldDescriptor.Index, not a
// re-scan of struct tags.
func FieldValue(e reflect.Value, fd FieldDescriptor) reflect.Value {
	for e.Kind() == reflect.Pointer {
		e = e.Elem()
	}
	return e.Field(fd.Index)
}
