package selection

import (
	"reflect"
	"testing"
)

func TestModel_DefaultsToAllSelected(t *testing.T) {
	m := New(10)
	if !m.IsAllSelected() {
		t.Fatal("IsAllSelected() = false on a fresh model")
	}
	if got := m.Count(); got != 10 {
		t.Errorf("Count() = %d, want 10", got)
	}
}

func TestModel_ToggleRoundTrip(t *testing.T) {
	m := New(10)
	m.DeselectAll()
	m.Toggle(3)
	if !m.IsSelected(3) {
		t.Error("page 3 not selected after Toggle")
	}
	m.Toggle(3)
	if m.IsSelected(3) {
		t.Error("page 3 still selected after second Toggle")
	}
	m.Toggle(0)
	m.Toggle(11)
	if m.Count() != 0 {
		t.Errorf("Count() = %d after out-of-range toggles, want 0", m.Count())
	}
}

func TestModel_ToggleBreaksAndRestoresAllSelected(t *testing.T) {
	m := New(5)
	if got := m.Pages(); !reflect.DeepEqual(got, []int{1, 2, 3, 4, 5}) {
		t.Errorf("Pages() = %v, want all five", got)
	}

	// deselecting a single page must flip the all-selected state back
	m.Toggle(2)
	if m.IsAllSelected() {
		t.Error("IsAllSelected() = true after deselecting one page")
	}
	if got := m.Pages(); !reflect.DeepEqual(got, []int{1, 3, 4, 5}) {
		t.Errorf("Pages() = %v, want all but page 2", got)
	}

	m.Toggle(2)
	if !m.IsAllSelected() {
		t.Error("IsAllSelected() = false after reselecting the page")
	}
}

func TestModel_DeselectAll(t *testing.T) {
	m := New(5)
	m.DeselectAll()
	if m.Count() != 0 {
		t.Errorf("Count() = %d after DeselectAll, want 0", m.Count())
	}
	if m.IsAllSelected() {
		t.Error("IsAllSelected() = true on empty selection")
	}
	m.SelectAll()
	if !m.IsAllSelected() {
		t.Error("IsAllSelected() = false after SelectAll")
	}
}

func TestModel_ResetStartsTheNewDocumentFullySelected(t *testing.T) {
	m := New(5)
	m.Toggle(2)
	m.Reset(8)
	if got := m.Count(); got != 8 {
		t.Errorf("Count() = %d after Reset, want 8", got)
	}
	if !m.IsAllSelected() {
		t.Error("IsAllSelected() = false after Reset")
	}
}
