package events_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"submitline/internal/domain"
	"submitline/internal/events"
)

var propertyCategories = []string{"cs.DL", "cs.AI", "cs.LG", "stat.ML", "math.PR", "cs.GL", "physics.gen-ph", "eess.SP"}

// classificationOp decodes a generated integer into a classification event.
func classificationOp(n int) events.Payload {
	c := propertyCategories[n%len(propertyCategories)]
	switch (n / len(propertyCategories)) % 3 {
	case 0:
		return &events.SetPrimaryClassification{Category: c}
	case 1:
		return &events.AddSecondaryClassification{Category: c}
	default:
		return &events.RemoveSecondaryClassification{Category: c}
	}
}

func TestClassificationDisjointness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	endorsed := domain.User("9", "", "*.*")

	properties.Property("primary never appears among secondaries", prop.ForAll(
		func(ops []int) bool {
			s, err := events.NewDraft(endorsed, &events.CreateSubmission{}).Stamp(t0).Apply(nil)
			if err != nil {
				return false
			}
			for i, n := range ops {
				ev := events.NewDraft(endorsed, classificationOp(n)).Stamp(t0.Add(time.Duration(i+1) * time.Second))
				next, err := ev.Apply(s)
				if err != nil {
					continue
				}
				s = next
				if s.Primary != nil && s.HasSecondary(s.Primary.Category) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 3*len(propertyCategories)-1)),
	))

	properties.TestingRun(t)
}

func TestVersionMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("new versions increment by one and start working", prop.ForAll(
		func(cycles int) bool {
			s := announced(t)
			at := s.Updated
			step := func(creator domain.Agent, p events.Payload) error {
				at = at.Add(time.Second)
				next, err := events.NewDraft(creator, p).Stamp(at).Apply(s)
				if err == nil {
					s = next
				}
				return err
			}
			for i := 0; i < cycles; i++ {
				before := s.Version
				if step(submitter, &events.CreateSubmissionVersion{}) != nil {
					return false
				}
				if s.Version != before+1 || s.Status != domain.StatusWorking {
					return false
				}
				if step(submitter, &events.CreateSubmissionVersion{}) == nil {
					return false
				}
				if step(moderator, &events.Announce{PublishedID: "2403.00001"}) != nil {
					return false
				}
			}
			return len(s.PastVersions) == cycles+1
		},
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func TestReplayInCreatedOrderIsStable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("replaying a sorted history reproduces the state", prop.ForAll(
		func(ops []int) bool {
			endorsed := domain.User("9", "", "*.*")
			history := []*events.Event{events.NewDraft(endorsed, &events.CreateSubmission{}).Stamp(t0)}
			s, _ := history[0].Apply(nil)
			for i, n := range ops {
				ev := events.NewDraft(endorsed, classificationOp(n)).Stamp(t0.Add(time.Duration(i+1) * time.Second))
				if next, err := ev.Apply(s); err == nil {
					s = next
					history = append(history, ev)
				}
			}
			var again *domain.Submission
			for _, ev := range history {
				next, err := ev.Apply(again)
				if err != nil {
					return false
				}
				again = next
			}
			return again.PrimaryCategory() == s.PrimaryCategory() &&
				len(again.Secondary) == len(s.Secondary) &&
				again.Updated.Equal(s.Updated)
		},
		gen.SliceOf(gen.IntRange(0, 3*len(propertyCategories)-1)),
	))

	properties.TestingRun(t)
}
