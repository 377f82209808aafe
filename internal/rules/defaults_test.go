package rules_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submitline/internal/domain"
	"submitline/internal/events"
	"submitline/internal/rules"
)

type fakeTitles []rules.TitleCandidate

func (f fakeTitles) RecentTitles(context.Context, time.Time) ([]rules.TitleCandidate, error) {
	return f, nil
}

type fakeExtractor struct{ err error }

func (f fakeExtractor) Extract(context.Context, domain.SourceContent) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "plain text", nil
}

func defaults(t *testing.T, actions rules.Actions) *rules.Registry {
	t.Helper()
	reg := rules.NewRegistry()
	require.NoError(t, rules.RegisterDefaults(reg, actions))
	return reg
}

// fire runs every matching rule and collects the drafts.
func fire(t *testing.T, reg *rules.Registry, ev *events.Event, after *domain.Submission) []events.Draft {
	t.Helper()
	var out []events.Draft
	for _, r := range reg.Match(ev, nil, after) {
		drafts, err := r.Run(context.Background(), ev, nil, after)
		require.NoError(t, err)
		out = append(out, drafts...)
	}
	return out
}

func TestDefaultsWithoutActions(t *testing.T) {
	reg := defaults(t, rules.Actions{})
	var names []string
	for _, r := range reg.Rules() {
		names = append(names, r.String())
	}
	assert.ElementsMatch(t, []string{
		"AcceptProposal::apply_accepted_proposal",
		"AddProposal::accept_system_cross_proposal",
		"FinalizeSubmission::propose_cross_list",
		"AddClassifierResults::propose_reclassification",
		"SetTitle::flag_excessive_unicode",
		"SetAbstract::check_abstract_ascii",
		"UploadPackage::check_source_size",
		"ConfirmPreview::check_pdf_size",
	}, names)
}

func TestProposeCrossList(t *testing.T) {
	reg := defaults(t, rules.Actions{})
	after := &domain.Submission{AggregateID: 3, Status: domain.StatusSubmitted, Primary: &domain.Classification{Category: "cs.LG"}}
	drafts := fire(t, reg, stamp(submitter, &events.FinalizeSubmission{}), after)
	require.Len(t, drafts, 1)
	prop := drafts[0].Payload.(*events.AddProposal)
	assert.Equal(t, events.TypeAddSecondaryClassification, prop.ProposedEventType)
	assert.Equal(t, "stat.ML", prop.ProposedEventData["category"])
	assert.Equal(t, "cs.LG is primary", prop.Comment)
	assert.True(t, drafts[0].Creator.Equal(domain.System("FinalizeSubmission::propose_cross_list")))

	after.Secondary = []domain.Classification{{Category: "stat.ML"}}
	assert.Empty(t, fire(t, reg, stamp(submitter, &events.FinalizeSubmission{}), after))

	after = &domain.Submission{Primary: &domain.Classification{Category: "cs.DL"}}
	assert.Empty(t, fire(t, reg, stamp(submitter, &events.FinalizeSubmission{}), after))
}

func TestApplyAcceptedProposal(t *testing.T) {
	reg := defaults(t, rules.Actions{})
	after := &domain.Submission{
		AggregateID: 3,
		Status:      domain.StatusSubmitted,
		Proposals: map[string]domain.Proposal{"p1": {
			ProposedEventType: string(events.TypeAddSecondaryClassification),
			ProposedEventData: map[string]any{"category": "stat.ML"},
			Status:            domain.ProposalAccepted,
		}},
	}
	ev := stamp(domain.System("moderation"), &events.AcceptProposal{ProposalID: "p1"})
	drafts := fire(t, reg, ev, after)
	require.Len(t, drafts, 3)
	assert.Equal(t, events.TypeUnFinalizeSubmission, drafts[0].Type())
	assert.Equal(t, "stat.ML", drafts[1].Payload.(*events.AddSecondaryClassification).Category)
	assert.Equal(t, events.TypeFinalizeSubmission, drafts[2].Type())

	after.Status = domain.StatusWorking
	drafts = fire(t, reg, ev, after)
	require.Len(t, drafts, 1)
	assert.Equal(t, events.TypeAddSecondaryClassification, drafts[0].Type())
}

func TestApplyAcceptedProposalNoLongerValid(t *testing.T) {
	reg := defaults(t, rules.Actions{})
	after := &domain.Submission{
		AggregateID: 3,
		Status:      domain.StatusSubmitted,
		Primary:     &domain.Classification{Category: "cs.LG"},
		Secondary:   []domain.Classification{{Category: "stat.ML"}},
		Proposals: map[string]domain.Proposal{"p2": {
			ProposedEventType: string(events.TypeAddSecondaryClassification),
			ProposedEventData: map[string]any{"category": "stat.ML"},
			Status:            domain.ProposalAccepted,
		}},
	}
	ev := stamp(domain.System("moderation"), &events.AcceptProposal{ProposalID: "p2"})
	matched := reg.Match(ev, nil, after)
	require.Len(t, matched, 1)
	drafts, err := matched[0].Run(context.Background(), ev, nil, after)
	assert.ErrorContains(t, err, "proposal p2 no longer applies")
	assert.Empty(t, drafts)
}

func TestAcceptSystemCrossProposal(t *testing.T) {
	reg := defaults(t, rules.Actions{})
	after := &domain.Submission{AggregateID: 3, Status: domain.StatusSubmitted}
	cross := &events.AddProposal{
		ProposedEventType: events.TypeAddSecondaryClassification,
		ProposedEventData: map[string]any{"category": "stat.ML"},
	}
	ev := stamp(domain.System("FinalizeSubmission::propose_cross_list"), cross)
	drafts := fire(t, reg, ev, after)
	require.Len(t, drafts, 1)
	accept := drafts[0].Payload.(*events.AcceptProposal)
	assert.Equal(t, ev.MustID(), accept.ProposalID)
	assert.Equal(t, "accept cross-list proposal from system", accept.Comment)
	assert.True(t, drafts[0].Creator.Equal(domain.System("AddProposal::accept_system_cross_proposal")))

	assert.Empty(t, fire(t, reg, stamp(submitter, cross), after))

	reclass := &events.AddProposal{
		ProposedEventType: events.TypeSetPrimaryClassification,
		ProposedEventData: map[string]any{"category": "cs.LG"},
	}
	assert.Empty(t, fire(t, reg, stamp(domain.System("classifier"), reclass), after))
}

func TestProposeReclassification(t *testing.T) {
	reg := defaults(t, rules.Actions{})
	classify := func(primary string, results ...domain.ClassifierScore) []events.Draft {
		after := &domain.Submission{AggregateID: 3, Version: 1, Status: domain.StatusSubmitted, Primary: &domain.Classification{Category: primary}}
		return fire(t, reg, stamp(domain.System("classifier"), &events.AddClassifierResults{Classifier: "classic", Results: results}), after)
	}
	proposed := func(t *testing.T, drafts []events.Draft) *events.AddProposal {
		t.Helper()
		require.Len(t, drafts, 1)
		prop := drafts[0].Payload.(*events.AddProposal)
		assert.Equal(t, events.TypeSetPrimaryClassification, prop.ProposedEventType)
		return prop
	}

	t.Run("within archive wins", func(t *testing.T) {
		prop := proposed(t, classify("cs.AI",
			domain.ClassifierScore{Category: "cs.AI", Probability: 0.2},
			domain.ClassifierScore{Category: "math.ST", Probability: 0.9},
			domain.ClassifierScore{Category: "cs.LG", Probability: 0.6},
		))
		assert.Equal(t, "cs.LG", prop.ProposedEventData["category"])
		assert.Equal(t, "selected primary cs.AI has probability 0.200", prop.Comment)
	})
	t.Run("outside archive", func(t *testing.T) {
		prop := proposed(t, classify("cs.AI",
			domain.ClassifierScore{Category: "math.ST", Probability: 0.9},
			domain.ClassifierScore{Category: "cs.LG", Probability: 0.56},
		))
		assert.Equal(t, "math.ST", prop.ProposedEventData["category"])
		assert.Equal(t, "selected primary cs.AI not found in classifier scores", prop.Comment)
	})
	t.Run("primary scores well", func(t *testing.T) {
		assert.Empty(t, classify("cs.AI",
			domain.ClassifierScore{Category: "cs.AI", Probability: 0.5},
			domain.ClassifierScore{Category: "cs.LG", Probability: 0.9},
		))
	})
	t.Run("nothing above threshold", func(t *testing.T) {
		assert.Empty(t, classify("cs.AI", domain.ClassifierScore{Category: "cs.LG", Probability: 0.56}))
	})
	t.Run("skipped archive", func(t *testing.T) {
		assert.Empty(t, classify("econ.EM", domain.ClassifierScore{Category: "cs.LG", Probability: 0.9}))
	})
	t.Run("no results", func(t *testing.T) {
		assert.Empty(t, classify("cs.AI"))
	})
}

func TestCheckAbstractASCII(t *testing.T) {
	reg := defaults(t, rules.Actions{})
	after := &domain.Submission{AggregateID: 3}
	drafts := fire(t, reg, stamp(submitter, &events.SetAbstract{Abstract: "Ωμέγα αλφα βήτα γάμμα δέλτα"}), after)
	require.Len(t, drafts, 1)
	flag := drafts[0].Payload.(*events.AddMetadataFlag)
	assert.Equal(t, "character_set", flag.FlagType)
	assert.Equal(t, "abstract", flag.Field)
	assert.Less(t, flag.FlagData["ascii"].(float64), 0.5)

	assert.Empty(t, fire(t, reg, stamp(submitter, &events.SetAbstract{Abstract: "A plain abstract about libraries."}), after))
	assert.Empty(t, fire(t, reg, stamp(domain.System("legacy"), &events.SetAbstract{Abstract: "Ωμέγα αλφα βήτα γάμμα δέλτα"}), after))
}

func TestSourceSizeHolds(t *testing.T) {
	reg := defaults(t, rules.Actions{})
	upload := stamp(submitter, &events.SetUploadPackage{Identifier: "9876"})

	after := &domain.Submission{AggregateID: 3, SourceContent: &domain.SourceContent{Identifier: "9876", UncompressedSize: 20_000_000, CompressedSize: 1000}}
	drafts := fire(t, reg, upload, after)
	require.Len(t, drafts, 1)
	hold := drafts[0].Payload.(*events.AddHold)
	assert.Equal(t, domain.HoldSourceOversize, hold.HoldType)
	assert.Equal(t, "20000000 bytes; 1000 bytes compressed", hold.HoldReason)
	assert.True(t, drafts[0].Creator.Equal(domain.System("UploadPackage::check_source_size")))

	after.Holds = map[string]domain.Hold{"h1": {EventID: "h1", Type: domain.HoldSourceOversize}}
	assert.Empty(t, fire(t, reg, upload, after))

	after.SourceContent.UncompressedSize = 2000
	after.Holds["h0"] = domain.Hold{EventID: "h0", Type: domain.HoldSourceOversize}
	after.Holds["h2"] = domain.Hold{EventID: "h2", Type: domain.HoldPatch}
	drafts = fire(t, reg, upload, after)
	require.Len(t, drafts, 2)
	assert.Equal(t, "h0", drafts[0].Payload.(*events.RemoveHold).HoldEventID)
	assert.Equal(t, "h1", drafts[1].Payload.(*events.RemoveHold).HoldEventID)

	reg = defaults(t, rules.Actions{Limits: rules.SizeLimits{CompressedPackageMax: 500}})
	after.Holds = nil
	drafts = fire(t, reg, upload, after)
	require.Len(t, drafts, 1)
	assert.Equal(t, domain.HoldSourceOversize, drafts[0].Payload.(*events.AddHold).HoldType)
}

func TestPreviewSizeHolds(t *testing.T) {
	reg := defaults(t, rules.Actions{})
	confirm := stamp(submitter, &events.ConfirmPreview{})

	after := &domain.Submission{AggregateID: 3, Preview: &domain.Preview{Size: 16_000_000}}
	drafts := fire(t, reg, confirm, after)
	require.Len(t, drafts, 1)
	hold := drafts[0].Payload.(*events.AddHold)
	assert.Equal(t, domain.HoldPDFOversize, hold.HoldType)
	assert.Equal(t, "PDF is 16000000 bytes", hold.HoldReason)

	after.Preview.Size = 1_000_000
	after.Holds = map[string]domain.Hold{"h1": {EventID: "h1", Type: domain.HoldPDFOversize}}
	drafts = fire(t, reg, confirm, after)
	require.Len(t, drafts, 1)
	assert.Equal(t, "h1", drafts[0].Payload.(*events.RemoveHold).HoldEventID)

	assert.Empty(t, fire(t, reg, confirm, &domain.Submission{AggregateID: 3}))
}

func TestFlagTitles(t *testing.T) {
	reg := defaults(t, rules.Actions{Titles: fakeTitles{
		{AggregateID: 1, Title: "A Study of Digital Libraries"},
		{AggregateID: 2, Title: "Something else entirely"},
		{AggregateID: 3, Title: "A study of digital libraries"},
	}})
	after := &domain.Submission{AggregateID: 3}
	drafts := fire(t, reg, stamp(submitter, &events.SetTitle{Title: "A study of digital libraries!"}), after)
	require.Len(t, drafts, 1)
	flag := drafts[0].Payload.(*events.AddMetadataFlag)
	assert.Equal(t, "possible duplicate title", flag.FlagType)
	assert.EqualValues(t, 1, flag.FlagData["matching_id"])

	drafts = fire(t, reg, stamp(submitter, &events.SetTitle{Title: "Ωμέγα αλφα βήτα γάμμα"}), after)
	require.Len(t, drafts, 1)
	assert.Equal(t, "character_set", drafts[0].Payload.(*events.AddMetadataFlag).FlagType)
}

func TestExtractPlainText(t *testing.T) {
	after := &domain.Submission{AggregateID: 3, SourceContent: &domain.SourceContent{Identifier: "9876"}}
	ev := stamp(submitter, &events.ConfirmPreview{})

	reg := defaults(t, rules.Actions{PlainText: fakeExtractor{}})
	var deferred []string
	for _, r := range reg.Match(ev, nil, after) {
		if r.Deferred {
			deferred = append(deferred, r.String())
		}
	}
	assert.Equal(t, []string{"ConfirmPreview::extract_plaintext"}, deferred)
	drafts := fire(t, reg, ev, after)
	require.Len(t, drafts, 3)
	assert.Equal(t, domain.ProcessRequested, drafts[0].Payload.(*events.AddProcessStatus).Status)
	assert.Equal(t, domain.ProcessSucceeded, drafts[1].Payload.(*events.AddProcessStatus).Status)
	assert.EqualValues(t, 10, drafts[2].Payload.(*events.AddFeature).FeatureValue)

	reg = defaults(t, rules.Actions{PlainText: fakeExtractor{err: errors.New("timeout")}})
	drafts = fire(t, reg, ev, after)
	require.Len(t, drafts, 2)
	failed := drafts[1].Payload.(*events.AddProcessStatus)
	assert.Equal(t, domain.ProcessFailed, failed.Status)
	assert.Equal(t, "timeout", failed.Reason)
}
