package cli

import (
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/taskview/internal/filter"
	"github.com/valter-silva-au/taskview/pkg/models"
)

var (
	dateKeywords = []string{"today", "tomorrow", "yesterday", "sow", "eow", "som", "eom", "now", "none"}
	sortKeywords = []string{"urgency", "due", "priority", "project", "status", "description", "id"}
)

// completeFilterTerms completes one filter term: a field name, a value
// for known fields, or a +tag from the current dataset.
func completeFilterTerms(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var candidates []string

	name, _, hasColon := strings.Cut(toComplete, ":")
	switch {
	case strings.HasPrefix(toComplete, "+"), strings.HasPrefix(toComplete, "-"):
		for _, tag := range datasetTags() {
			candidates = append(candidates, toComplete[:1]+tag)
		}
	case !hasColon:
		for _, f := range filter.FieldNames() {
			candidates = append(candidates, f+":")
		}
		candidates = append(candidates, "and", "or", "not")
	default:
		for _, v := range fieldValues(strings.ToLower(name)) {
			candidates = append(candidates, name+":"+v)
		}
	}

	var out []string
	for _, c := range candidates {
		if strings.HasPrefix(c, toComplete) {
			out = append(out, c)
		}
	}
	directive := cobra.ShellCompDirectiveNoFileComp
	if strings.HasSuffix(toComplete, ":") || !hasColon {
		directive |= cobra.ShellCompDirectiveNoSpace
	}
	return out, directive
}

func fieldValues(field string) []string {
	switch field {
	case "status":
		vals := make([]string, len(models.Statuses))
		for i, s := range models.Statuses {
			vals[i] = string(s)
		}
		return vals
	case "priority", "pri":
		return []string{"H", "M", "L", "none"}
	case "project", "proj":
		return datasetProjects()
	case "tag", "tags":
		return datasetTags()
	case "due":
		return dateKeywords
	case "sort":
		return sortKeywords
	case "completed", "deleted", "waiting", "pending", "overdue", "tagged", "hasdue":
		return []string{"true", "false"}
	default:
		return nil
	}
}

func datasetProjects() []string {
	if Source == nil {
		return nil
	}
	seen := make(map[string]bool)
	for _, r := range Source.Snapshot().Records() {
		if r.Project != "" {
			seen[r.Project] = true
		}
	}
	return sortedKeys(seen)
}

func datasetTags() []string {
	if Source == nil {
		return nil
	}
	seen := make(map[string]bool)
	for _, r := range Source.Snapshot().Records() {
		for _, t := range r.Tags {
			seen[t] = true
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func init() {
	viewCmd.ValidArgsFunction = completeFilterTerms
	queryCmd.ValidArgsFunction = completeFilterTerms
	explainCmd.ValidArgsFunction = completeFilterTerms
}
