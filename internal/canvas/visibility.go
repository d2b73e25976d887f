package canvas

import (
	"strings"

	"golang.org/x/text/cases"
)

// Placement locates a field relative to the current page window.
type Placement int

const (
	CurrentPage Placement = iota
	AbovePage
	BelowPage
)

func (p Placement) String() string {
	switch p {
	case AbovePage:
		return "above"
	case BelowPage:
		return "below"
	}
	return "current"
}

// Matches reports whether name contains keyword, ignoring case. The empty
// keyword matches everything.
func Matches(name, keyword string) bool {
	if keyword == "" {
		return true
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(name), fold.String(keyword))
}

// Filter returns the fields whose display name matches keyword, in order.
func Filter(fields []*Field, keyword string) []*Field {
	if keyword == "" {
		return fields
	}
	matched := make([]*Field, 0, len(fields))
	for _, f := range fields {
		if Matches(f.DisplayName(), keyword) {
			matched = append(matched, f)
		}
	}
	return matched
}

// VisibleSlice returns the rows of page offset and the number of fields
// matching keyword. An offset past the end yields an empty page; clamping is
// the caller's job.
func VisibleSlice(fields []*Field, keyword string, offset, pageSize int) ([]*Field, int) {
	matched := Filter(fields, keyword)
	return pageOf(matched, offset, pageSize), len(matched)
}

func pageOf(matched []*Field, offset, pageSize int) []*Field {
	if pageSize <= 0 || offset < 0 {
		return nil
	}
	start := offset * pageSize
	if start >= len(matched) {
		return nil
	}
	end := min(start+pageSize, len(matched))
	return matched[start:end]
}

// Classify places the field at index of the matched list relative to page
// offset.
func Classify(index, offset, pageSize int) Placement {
	start := offset * pageSize
	switch {
	case index < start:
		return AbovePage
	case index >= start+pageSize:
		return BelowPage
	}
	return CurrentPage
}

// PageCount is ceil(total/pageSize).
func PageCount(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// ClampOffset bounds offset to [0, max(0, PageCount-1)].
func ClampOffset(offset, total, pageSize int) int {
	last := max(0, PageCount(total, pageSize)-1)
	return max(0, min(offset, last))
}

func indexOf(matched []*Field, uid int) int {
	for i, f := range matched {
		if f.UID == uid {
			return i
		}
	}
	return -1
}
