package source

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/valter-silva-au/taskview/pkg/models"
)

// syntheticNamespace seeds the name-based UUIDs of generated records.
var syntheticNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://taskview.local/synthetic"))

var (
	syntheticProjects = []string{"", "work", "work.client", "work.client.acme", "work.internal", "home", "home.garden", "errands", "learning.go"}
	syntheticTags     = []string{"urgent", "next", "someday", "email", "call", "review", "bug", "waiting"}
	syntheticVerbs    = []string{"Fix", "Write", "Review", "Call", "Plan", "Buy", "Refactor", "Email", "Schedule", "Clean"}
	syntheticObjects  = []string{"login bug", "quarterly report", "pull request", "dentist", "sprint", "groceries", "cache layer", "landlord", "team offsite", "garage"}
)

// Synthetic returns n deterministic task records. The same n, seed and
// base always produce identical records; due dates are spread around base.
func Synthetic(n int, seed uint64, base time.Time) []models.TaskRecord {
	rng := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
	recs := make([]models.TaskRecord, n)
	for i := range recs {
		r := models.TaskRecord{
			ID:          fmt.Sprintf("T%06d", i+1),
			Status:      pickStatus(rng),
			Project:     syntheticProjects[rng.IntN(len(syntheticProjects))],
			Priority:    pickPriority(rng),
			Urgency:     float64(rng.IntN(2000)) / 100,
			Description: syntheticVerbs[rng.IntN(len(syntheticVerbs))] + " " + syntheticObjects[rng.IntN(len(syntheticObjects))],
			Raw: map[string]any{
				"uuid":  uuid.NewSHA1(syntheticNamespace, fmt.Appendf(nil, "%d/%d", seed, i)).String(),
				"entry": base.Add(-time.Duration(rng.IntN(90*24)) * time.Hour).UTC().Format(time.RFC3339),
			},
		}
		for range rng.IntN(4) {
			r.Tags = append(r.Tags, syntheticTags[rng.IntN(len(syntheticTags))])
		}
		if rng.IntN(3) != 0 {
			due := base.Add(time.Duration(rng.IntN(60*24)-20*24) * time.Hour)
			r.Due = &due
		}
		recs[i] = models.NewTaskRecord(r)
	}
	return recs
}

func pickStatus(rng *rand.Rand) models.TaskStatus {
	switch n := rng.IntN(100); {
	case n < 55:
		return models.StatusPending
	case n < 65:
		return models.StatusWaiting
	case n < 90:
		return models.StatusCompleted
	default:
		return models.StatusDeleted
	}
}

func pickPriority(rng *rand.Rand) models.Priority {
	switch n := rng.IntN(100); {
	case n < 40:
		return models.PriorityNone
	case n < 60:
		return models.PriorityLow
	case n < 80:
		return models.PriorityMed
	default:
		return models.PriorityHigh
	}
}
