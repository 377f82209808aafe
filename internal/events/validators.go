package events

import (
	"strings"

	"submitline/internal/domain"
	"submitline/internal/taxonomy"
)

const maxSecondaries = 4

func notFinalized(e *Event, s *domain.Submission) error {
	if s.IsFinalized() {
		return e.invalid("Cannot apply to a finalized submission")
	}
	return nil
}

// notFinalizedUnlessAnnounced guards the fields that may still change after
// announcement.
func notFinalizedUnlessAnnounced(e *Event, s *domain.Submission) error {
	if s.IsFinalized() && !s.IsAnnounced() {
		return e.invalid("Cannot edit a finalized submission")
	}
	return nil
}

// noTrailingPeriod rejects a value ending in "." unless it ends in "...".
func noTrailingPeriod(e *Event, value string) error {
	if strings.HasSuffix(value, ".") && !strings.HasSuffix(value, "...") {
		return e.invalid("Must not contain trailing periods except ellipses.")
	}
	return nil
}

func categoryIsValid(e *Event, category string) error {
	if category == "" || !taxonomy.Default().IsActive(category) {
		return e.invalid("Not a valid category")
	}
	return nil
}

const primaryAndSecondary = "The same category cannot be used as both the primary and a secondary category."

func categoryNotPrimary(e *Event, category string, s *domain.Submission) error {
	if s.Primary != nil && s.Primary.Category == category {
		return e.invalid(primaryAndSecondary)
	}
	return nil
}

// primaryNotSecondary guards a new primary against the current secondaries.
func primaryNotSecondary(e *Event, category string, s *domain.Submission) error {
	if s.HasSecondary(category) {
		return e.invalid(primaryAndSecondary)
	}
	return nil
}

func categoryNotSecondary(e *Event, category string, s *domain.Submission) error {
	if s.HasSecondary(category) {
		return e.invalid("Secondary %s already set on this submission.", category)
	}
	return nil
}

func noActiveRequests(e *Event, s *domain.Submission) error {
	if s.HasActiveRequests() {
		return e.invalid("Must not have active requests.")
	}
	return nil
}

func mustBeAnnounced(e *Event, s *domain.Submission) error {
	if !s.IsAnnounced() {
		return e.invalid("Submission must already be announced")
	}
	return nil
}

func creatorIsEndorsed(e *Event, category string) error {
	if e.Creator.IsSystem() || e.Creator.EndorsedFor(category) {
		return nil
	}
	return e.invalid("Creator is not endorsed for %s.", category)
}

func firstVersionUnannounced(e *Event, s *domain.Submission) error {
	if s.Version > 1 || s.IsAnnounced() {
		return e.invalid("Can only be set on the first version, before publication.")
	}
	return nil
}

func withinMaxSecondaries(e *Event, s *domain.Submission) error {
	if len(s.Secondary)+1 > maxSecondaries {
		return e.invalid("No more than %d secondary categories per submission.", maxSecondaries)
	}
	return nil
}

func notGeneralPhysics(e *Event, category string) error {
	if category == "physics.gen-ph" {
		return e.invalid("Cannot be physics.gen-ph.")
	}
	return nil
}

// noRedundantGeneral rejects a general category when a more specific
// category of the same archive is already present.
func noRedundantGeneral(e *Event, category string, s *domain.Submission) error {
	tax := taxonomy.Default()
	if !tax.IsGeneral(category) {
		return nil
	}
	archive := tax.Archive(category)
	for _, c := range append([]string{s.PrimaryCategory()}, s.SecondaryCategories()...) {
		if c != "" && tax.Archive(c) == archive {
			return e.invalid("Cannot add general category %s due to more specific category from %s.", category, archive)
		}
	}
	return nil
}

// noRedundantSpecific rejects a specific category when a general category
// of the same archive is already present.
func noRedundantSpecific(e *Event, category string, s *domain.Submission) error {
	tax := taxonomy.Default()
	if tax.IsGeneral(category) {
		return nil
	}
	archive := tax.Archive(category)
	if p := s.PrimaryCategory(); p != "" && tax.Archive(p) == archive && tax.IsGeneral(p) {
		return e.invalid("Cannot add more specific %s due to general primary.", category)
	}
	for _, c := range s.SecondaryCategories() {
		if tax.Archive(c) == archive && tax.IsGeneral(c) {
			return e.invalid("Cannot add more specific %s due to general secondaries.", category)
		}
	}
	return nil
}

// check runs validators in order and returns the first failure.
func check(fns ...func() error) error {
	for _, fn := range fns {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}
