package domain

import "testing"

type sample struct {
	ID          string `dataengine:"key"`
	Name        string `dataengine:"tracked"`
	Hash        string `dataengine:"integrity"`
	TrackedHash string `dataengine:"tracked,integrity"`
	Status      string `dataengine:"timeseries"`
	Summary     string `dataengine:"embed=2:{Summary}"`
	Plain       string
}

func TestBuildDescriptorReadsFlags(t *testing.T) {
	desc := BuildDescriptor[sample]()

	if desc.Key.Name != "ID" {
		t.Errorf("Key.Name = %q, want %q", desc.Key.Name, "ID")
	}
	if len(desc.Fields) != 6 {
		t.Errorf("len(Fields) = %d, want 6 (Plain has no tag)", len(desc.Fields))
	}
}

func TestBuildDescriptorCachesByType(t *testing.T) {
	first := BuildDescriptor[sample]()
	second := BuildDescriptor[sample]()
	if first != second {
		t.Error("expected BuildDescriptor to return the cached pointer on repeat calls")
	}
}

func TestParseTagIntegrityImpliesTracked(t *testing.T) {
	desc := BuildDescriptor[sample]()

	var hashField *FieldDescriptor
	for i := range desc.Fields {
		if desc.Fields[i].Name == "Hash" {
			hashField = &desc.Fields[i]
		}
	}
	if hashField == nil {
		t.Fatal("expected a descriptor for field Hash")
	}
	if !hashField.Flags.Integrity {
		t.Error("expected Hash to be integrity-protected")
	}
	if !hashField.Flags.Tracked {
		t.Error("expected integrity to imply tracked, so the change log always has a matching entry for hash chain verification")
	}
}

func TestIntegrityFieldsAreAlwaysAmongTrackedFields(t *testing.T) {
	desc := BuildDescriptor[sample]()

	tracked := make(map[string]bool)
	for _, fd := range desc.TrackedFields() {
		tracked[fd.Name] = true
	}
	for _, fd := range desc.IntegrityFields() {
		if !tracked[fd.Name] {
			t.Errorf("integrity field %q is not in TrackedFields()", fd.Name)
		}
	}
}

func TestEmbeddableFieldsOrderedByDescendingPriority(t *testing.T) {
	desc := BuildDescriptor[sample]()
	fields := desc.EmbeddableFields()
	if len(fields) != 1 || fields[0].Name != "Summary" {
		t.Errorf("EmbeddableFields() = %v, want [Summary]", fields)
	}
	if fields[0].Flags.Priority != 2 {
		t.Errorf("Summary priority = %d, want 2", fields[0].Flags.Priority)
	}
}
