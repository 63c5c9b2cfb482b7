package models

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// TaskStatus represents the lifecycle state of a task record.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusCompleted TaskStatus = "completed"
	StatusDeleted   TaskStatus = "deleted"
	StatusWaiting   TaskStatus = "waiting"
)

// Statuses lists every valid TaskStatus in display order.
var Statuses = []TaskStatus{StatusPending, StatusWaiting, StatusCompleted, StatusDeleted}

// ParseStatus returns the TaskStatus for s, ignoring case.
func ParseStatus(s string) (TaskStatus, bool) {
	st := TaskStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range Statuses {
		if v == st {
			return st, true
		}
	}
	return "", false
}

// Priority represents the urgency bucket of a task. The zero value is PriorityNone.
type Priority string

const (
	PriorityNone Priority = ""
	PriorityLow  Priority = "L"
	PriorityMed  Priority = "M"
	PriorityHigh Priority = "H"
)

// ParsePriority accepts H, M, L (any case) and "none" or the empty string.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "H":
		return PriorityHigh, true
	case "M":
		return PriorityMed, true
	case "L":
		return PriorityLow, true
	case "", "NONE":
		return PriorityNone, true
	default:
		return "", false
	}
}

// Rank orders priorities: none < L < M < H.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMed:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// String renders PriorityNone as "none".
func (p Priority) String() string {
	if p == PriorityNone {
		return "none"
	}
	return string(p)
}

// ProjectSeparator separates levels of a hierarchical project path.
const ProjectSeparator = "."

// TaskRecord is a single task as seen by the filter engine. Records are
// immutable once constructed: build them with NewTaskRecord and derive
// modified copies with the With* helpers.
type TaskRecord struct {
	ID          string         `yaml:"id" json:"id"`
	Status      TaskStatus     `yaml:"status" json:"status"`
	Project     string         `yaml:"project,omitempty" json:"project,omitempty"`
	Priority    Priority       `yaml:"priority,omitempty" json:"priority,omitempty"`
	Tags        []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
	Urgency     float64        `yaml:"urgency" json:"urgency"`
	Due         *time.Time     `yaml:"due,omitempty" json:"due,omitempty"`
	Description string         `yaml:"description" json:"description"`
	Raw         map[string]any `yaml:"raw,omitempty" json:"raw,omitempty"`
}

// NewTaskRecord returns a defensive copy of r with tags sorted and
// deduplicated, so that the result shares no mutable state with the caller.
func NewTaskRecord(r TaskRecord) TaskRecord {
	out := r
	out.Tags = normalizeTags(r.Tags)
	if r.Due != nil {
		due := *r.Due
		out.Due = &due
	}
	if r.Raw != nil {
		out.Raw = maps.Clone(r.Raw)
	}
	return out
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// HasTag reports whether tag is in the record's tag set.
func (r TaskRecord) HasTag(tag string) bool {
	_, found := slices.BinarySearch(r.Tags, tag)
	return found
}

// InProject reports whether the record's project equals p or is nested under it.
func (r TaskRecord) InProject(p string) bool {
	if p == "" {
		return true
	}
	if r.Project == p {
		return true
	}
	return strings.HasPrefix(r.Project, p+ProjectSeparator)
}

// WithStatus returns a copy of r with the given status.
func (r TaskRecord) WithStatus(s TaskStatus) TaskRecord {
	out := NewTaskRecord(r)
	out.Status = s
	return out
}

// WithPriority returns a copy of r with the given priority.
func (r TaskRecord) WithPriority(p Priority) TaskRecord {
	out := NewTaskRecord(r)
	out.Priority = p
	return out
}

// WithUrgency returns a copy of r with the given urgency score.
func (r TaskRecord) WithUrgency(u float64) TaskRecord {
	out := NewTaskRecord(r)
	out.Urgency = u
	return out
}

// WithTags returns a copy of r with its tag set replaced.
func (r TaskRecord) WithTags(tags ...string) TaskRecord {
	out := NewTaskRecord(r)
	out.Tags = normalizeTags(tags)
	return out
}

// WithDescription returns a copy of r with the given description.
func (r TaskRecord) WithDescription(d string) TaskRecord {
	out := NewTaskRecord(r)
	out.Description = d
	return out
}
