package gmail

import (
	"strings"
)

// DefaultWindow is the Gmail relative-date filter applied to searches.
const DefaultWindow = "1y"

// BuildQuery builds a Gmail search that matches known senders or receipt
// keywords in the subject, limited to the given window:
//
//	(from:netflix OR from:spotify) OR (subject:invoice OR subject:receipt) newer_than:1y
func BuildQuery(senders, keywords []string, window string) string {
	var groups []string
	if g := orGroup("from:", senders); g != "" {
		groups = append(groups, g)
	}
	if g := orGroup("subject:", keywords); g != "" {
		groups = append(groups, g)
	}

	query := strings.Join(groups, " OR ")
	if window != "" {
		if query != "" {
			query += " "
		}
		query += "newer_than:" + window
	}
	return query
}

func orGroup(operator string, terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if strings.ContainsAny(term, " \t") {
			term = `"` + term + `"`
		}
		parts = append(parts, operator+term)
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}
