package events

import "submitline/internal/domain"

type SetPrimaryClassification struct {
	Category string `json:"category"`
}

func (*SetPrimaryClassification) EventType() Type { return TypeSetPrimaryClassification }

func (p *SetPrimaryClassification) validate(e *Event, s *domain.Submission) error {
	return check(
		func() error { return categoryIsValid(e, p.Category) },
		func() error { return creatorIsEndorsed(e, p.Category) },
		func() error { return firstVersionUnannounced(e, s) },
		func() error { return notFinalized(e, s) },
		func() error { return primaryNotSecondary(e, p.Category, s) },
	)
}

func (p *SetPrimaryClassification) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.Primary = &domain.Classification{Category: p.Category}
	return s
}

type AddSecondaryClassification struct {
	Category string `json:"category"`
}

func (*AddSecondaryClassification) EventType() Type { return TypeAddSecondaryClassification }

func (p *AddSecondaryClassification) validate(e *Event, s *domain.Submission) error {
	return check(
		func() error { return categoryIsValid(e, p.Category) },
		func() error { return notFinalized(e, s) },
		func() error { return categoryNotPrimary(e, p.Category, s) },
		func() error { return categoryNotSecondary(e, p.Category, s) },
		func() error { return withinMaxSecondaries(e, s) },
		func() error { return notGeneralPhysics(e, p.Category) },
		func() error { return noRedundantGeneral(e, p.Category, s) },
		func() error { return noRedundantSpecific(e, p.Category, s) },
	)
}

func (p *AddSecondaryClassification) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.Secondary = append(s.Secondary, domain.Classification{Category: p.Category})
	return s
}

type RemoveSecondaryClassification struct {
	Category string `json:"category"`
}

func (*RemoveSecondaryClassification) EventType() Type { return TypeRemoveSecondaryClassification }

func (p *RemoveSecondaryClassification) validate(e *Event, s *domain.Submission) error {
	if err := categoryIsValid(e, p.Category); err != nil {
		return err
	}
	if !s.HasSecondary(p.Category) {
		return e.invalid("No such category on submission")
	}
	return notFinalized(e, s)
}

func (p *RemoveSecondaryClassification) project(_ *Event, s *domain.Submission) *domain.Submission {
	kept := s.Secondary[:0]
	for _, c := range s.Secondary {
		if c.Category != p.Category {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	s.Secondary = kept
	return s
}

// Reclassify is the moderator's counterpart of SetPrimaryClassification. It
// skips the endorsement check and may be applied while finalized.
type Reclassify struct {
	Category string `json:"category"`
}

func (*Reclassify) EventType() Type { return TypeReclassify }

func (p *Reclassify) validate(e *Event, s *domain.Submission) error {
	return check(
		func() error { return categoryIsValid(e, p.Category) },
		func() error {
			if s.IsAnnounced() {
				return e.invalid("Cannot reclassify an announced submission")
			}
			return nil
		},
		func() error { return primaryNotSecondary(e, p.Category, s) },
	)
}

func (p *Reclassify) project(_ *Event, s *domain.Submission) *domain.Submission {
	s.Primary = &domain.Classification{Category: p.Category}
	return s
}
