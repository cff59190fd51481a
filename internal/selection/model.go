package selection

import "sort"

// Model tracks which pages of the current document are selected for
// extraction. It is a plain value-semantics state holder; the server keeps
// one per loaded document and consults it when an extraction is requested.
type Model struct {
	total    int
	selected map[int]struct{}
}

// New creates a selection over a document with total pages. Every page starts
// selected; extracting the whole document is the common case.
func New(total int) *Model {
	m := &Model{total: total, selected: map[int]struct{}{}}
	m.SelectAll()
	return m
}

// Toggle flips the selection state of page. Out-of-range pages are ignored.
func (m *Model) Toggle(page int) {
	if page < 1 || page > m.total {
		return
	}
	if _, ok := m.selected[page]; ok {
		delete(m.selected, page)
		return
	}
	m.selected[page] = struct{}{}
}

// SelectAll marks every page of the document selected.
func (m *Model) SelectAll() {
	for p := 1; p <= m.total; p++ {
		m.selected[p] = struct{}{}
	}
}

// DeselectAll clears the selection.
func (m *Model) DeselectAll() {
	m.selected = map[int]struct{}{}
}

// IsSelected reports whether page is selected.
func (m *Model) IsSelected(page int) bool {
	_, ok := m.selected[page]
	return ok
}

// IsAllSelected reports whether every page of the document is selected.
// Drives the select-all control label flipping between the two states.
func (m *Model) IsAllSelected() bool {
	return m.total > 0 && len(m.selected) == m.total
}

// Count returns the number of selected pages.
func (m *Model) Count() int {
	return len(m.selected)
}

// Pages returns the selected page numbers in ascending order.
func (m *Model) Pages() []int {
	out := make([]int, 0, len(m.selected))
	for p := range m.selected {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Reset replaces the model for a new document. The new document starts with
// everything selected again.
func (m *Model) Reset(total int) {
	m.total = total
	m.selected = map[int]struct{}{}
	m.SelectAll()
}
