package notes

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kuitang/notecase/internal/errs"
)

// Field limits, in characters.
const (
	MaxTitleLength = 255
	MaxLabelLength = 64
	MaxLabels      = 32
)

// Pagination bounds.
const (
	DefaultPerPage = 10
	MaxPerPage     = 50
)

func validateTitle(title string, fields map[string]string) {
	switch {
	case strings.TrimSpace(title) == "":
		fields["title"] = "title is required"
	case utf8.RuneCountInString(title) > MaxTitleLength:
		fields["title"] = fmt.Sprintf("title must be at most %d characters", MaxTitleLength)
	}
}

func validateDescription(description string, fields map[string]string) {
	if strings.TrimSpace(description) == "" {
		fields["description"] = "description is required"
	}
}

func validateVisibility(v Visibility, fields map[string]string) {
	if !v.Valid() {
		fields["visibility"] = "visibility must be one of public, private, draft"
	}
}

// normalizeLabels trims labels, drops empties and case-insensitive
// duplicates, and keeps the first spelling of each.
func normalizeLabels(labels []string, fields map[string]string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		if utf8.RuneCountInString(label) > MaxLabelLength {
			fields["labels"] = fmt.Sprintf("labels must be at most %d characters", MaxLabelLength)
			continue
		}
		key := labelKey(label)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, label)
	}
	if len(out) > MaxLabels {
		fields["labels"] = fmt.Sprintf("at most %d labels are allowed", MaxLabels)
	}
	return out
}

func validationError(fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return errs.Validation(fields)
}

// normalizePage clamps page to >= 1 and perPage to [1, MaxPerPage],
// defaulting to DefaultPerPage.
func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}

func totalPages(totalItems, perPage int) int {
	if totalItems <= 0 || perPage <= 0 {
		return 0
	}
	return (totalItems + perPage - 1) / perPage
}
