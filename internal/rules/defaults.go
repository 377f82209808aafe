package rules

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"submitline/internal/domain"
	"submitline/internal/events"
	"submitline/internal/taxonomy"
)

// PlainTextExtractor extracts text from a compiled preview.
type PlainTextExtractor interface {
	Extract(ctx context.Context, source domain.SourceContent) (string, error)
}

// TitleCandidate is a recent submission whose title may duplicate another.
type TitleCandidate struct {
	AggregateID int64
	Title       string
}

// TitleIndex lists the titles of submissions updated since a point in time.
type TitleIndex interface {
	RecentTitles(ctx context.Context, since time.Time) ([]TitleCandidate, error)
}

// Actions are the external collaborators the built-in rules call. Rules
// whose action is nil are not registered.
type Actions struct {
	PlainText PlainTextExtractor
	Titles    TitleIndex
	// Now anchors the duplicate-title window. Defaults to time.Now.
	Now func() time.Time
	// Limits bound upload and preview sizes before a hold is placed.
	Limits SizeLimits
}

const (
	titleSimilarityThreshold = 0.7
	titleASCIIThreshold      = 0.5
	titleWindow              = 91 * 24 * time.Hour
	abstractASCIIThreshold   = 0.5

	// A primary the classifier scores at least this high is left alone.
	primaryKeepThreshold = 0.5
	proposalThreshold    = 0.57
)

// Classifier suggestions are not proposed for these primaries or archives.
var (
	reclassifySkipCategories = map[string]bool{"cs.CE": true}
	reclassifySkipArchives   = map[string]bool{"econ": true}
)

// crossListPairs maps a primary category to the secondary that is proposed
// along with it.
var crossListPairs = map[string]string{
	"cs.LG":   "stat.ML",
	"stat.ML": "cs.LG",
}

// RegisterDefaults installs the built-in rules.
func RegisterDefaults(r *Registry, actions Actions) error {
	if actions.Now == nil {
		actions.Now = time.Now
	}
	limits := actions.Limits.withDefaults()
	regs := []struct {
		typ  events.Type
		cond Condition
		name string
		cb   Callback
		opts []Option
		skip bool
	}{
		{events.TypeAcceptProposal, Always, "apply_accepted_proposal", applyAcceptedProposal, nil, false},
		{events.TypeAddProposal, Always, "accept_system_cross_proposal", acceptSystemCrossProposal, nil, false},
		{events.TypeFinalizeSubmission, nil, "propose_cross_list", proposeCrossList, nil, false},
		{events.TypeAddClassifierResults, Always, "propose_reclassification", proposeReclassification, nil, false},
		{events.TypeSetTitle, nil, "flag_excessive_unicode", flagExcessiveUnicode, nil, false},
		{events.TypeSetAbstract, nil, "check_abstract_ascii", checkAbstractASCII, nil, false},
		{events.FamilyContent, Always, "check_source_size", checkSourceSize(limits), nil, false},
		{events.TypeConfirmPreview, Always, "check_pdf_size", checkPreviewSize(limits), nil, false},
		{events.TypeConfirmPreview, Always, "extract_plaintext", extractPlainText(actions.PlainText), []Option{Deferred()}, actions.PlainText == nil},
		{events.TypeSetTitle, nil, "flag_possible_duplicate_title", flagDuplicateTitle(actions.Titles, actions.Now), nil, actions.Titles == nil},
	}
	for _, reg := range regs {
		if reg.skip {
			continue
		}
		if err := r.Bind(reg.typ, reg.cond).Register(reg.name, reg.cb, reg.opts...); err != nil {
			return err
		}
	}
	return nil
}

// applyAcceptedProposal emits the proposed event. A submission in
// moderation is reopened around it and finalized again. A proposal that no
// longer applies to the current state emits nothing.
func applyAcceptedProposal(_ context.Context, ev *events.Event, _, after *domain.Submission, creator domain.Agent) ([]events.Draft, error) {
	accept := ev.Payload.(*events.AcceptProposal)
	prop, ok := after.Proposals[accept.ProposalID]
	if !ok {
		return nil, fmt.Errorf("no such proposal %s", accept.ProposalID)
	}
	decode := func() (events.Payload, error) {
		return events.DecodePayload(events.Type(prop.ProposedEventType), prop.ProposedEventData)
	}
	payload, err := decode()
	if err != nil {
		return nil, err
	}
	reopen := after.IsFinalized() && !after.IsAnnounced()
	target := after
	if reopen {
		target = after.Clone()
		target.Status = domain.StatusWorking
	}
	trial, err := decode()
	if err != nil {
		return nil, err
	}
	if err := events.NewDraft(creator, trial).Stamp(ev.Created).Validate(target); err != nil {
		return nil, fmt.Errorf("proposal %s no longer applies: %w", accept.ProposalID, err)
	}
	if reopen {
		return []events.Draft{
			events.NewDraft(creator, &events.UnFinalizeSubmission{}),
			events.NewDraft(creator, payload),
			events.NewDraft(creator, &events.FinalizeSubmission{}),
		}, nil
	}
	return []events.Draft{events.NewDraft(creator, payload)}, nil
}

// acceptSystemCrossProposal accepts cross-list proposals raised by the
// system itself.
func acceptSystemCrossProposal(_ context.Context, ev *events.Event, _, _ *domain.Submission, creator domain.Agent) ([]events.Draft, error) {
	prop := ev.Payload.(*events.AddProposal)
	if !ev.Creator.IsSystem() || prop.ProposedEventType != events.TypeAddSecondaryClassification {
		return nil, nil
	}
	return []events.Draft{events.NewDraft(creator, &events.AcceptProposal{
		ProposalID: ev.MustID(),
		Comment:    "accept cross-list proposal from system",
	})}, nil
}

func proposeCrossList(_ context.Context, _ *events.Event, _, after *domain.Submission, creator domain.Agent) ([]events.Draft, error) {
	primary := after.PrimaryCategory()
	suggested, ok := crossListPairs[primary]
	if !ok || after.HasSecondary(suggested) {
		return nil, nil
	}
	return []events.Draft{events.NewDraft(creator, &events.AddProposal{
		ProposedEventType: events.TypeAddSecondaryClassification,
		ProposedEventData: map[string]any{"category": suggested},
		Comment:           primary + " is primary",
	})}, nil
}

// proposeReclassification suggests a new primary when the classifier gives
// the current one a low score. Candidates from the primary's own archive win
// over the rest.
func proposeReclassification(_ context.Context, ev *events.Event, _, after *domain.Submission, creator domain.Agent) ([]events.Draft, error) {
	results := ev.Payload.(*events.AddClassifierResults).Results
	primary := after.PrimaryCategory()
	if len(results) == 0 || primary == "" || after.Version > 1 || after.IsAnnounced() {
		return nil, nil
	}
	tax := taxonomy.Default()
	archive := tax.Archive(primary)
	if reclassifySkipCategories[primary] || reclassifySkipArchives[archive] {
		return nil, nil
	}
	comment := "selected primary " + primary + " not found in classifier scores"
	var within, outside *domain.ClassifierScore
	for i := range results {
		r := &results[i]
		if r.Category == primary {
			if r.Probability >= primaryKeepThreshold {
				return nil, nil
			}
			comment = fmt.Sprintf("selected primary %s has probability %.3f", primary, r.Probability)
			continue
		}
		if r.Probability < proposalThreshold || after.HasSecondary(r.Category) || !tax.IsActive(r.Category) {
			continue
		}
		best := &outside
		if tax.Archive(r.Category) == archive {
			best = &within
		}
		if *best == nil || r.Probability > (*best).Probability {
			*best = r
		}
	}
	suggested := within
	if suggested == nil {
		suggested = outside
	}
	if suggested == nil {
		return nil, nil
	}
	return []events.Draft{events.NewDraft(creator, &events.AddProposal{
		ProposedEventType: events.TypeSetPrimaryClassification,
		ProposedEventData: map[string]any{"category": suggested.Category},
		Comment:           comment,
	})}, nil
}

func extractPlainText(x PlainTextExtractor) Callback {
	return func(ctx context.Context, _ *events.Event, _, after *domain.Submission, creator domain.Agent) ([]events.Draft, error) {
		if after.SourceContent == nil {
			return nil, nil
		}
		status := func(state domain.ProcessState, reason string) events.Draft {
			return events.NewDraft(creator, &events.AddProcessStatus{
				ProcessID: after.SourceContent.Identifier,
				Process:   domain.ProcessPlainText,
				Status:    state,
				Reason:    reason,
			})
		}
		drafts := []events.Draft{status(domain.ProcessRequested, "")}
		text, err := x.Extract(ctx, *after.SourceContent)
		if err != nil {
			return append(drafts, status(domain.ProcessFailed, err.Error())), nil
		}
		return append(drafts,
			status(domain.ProcessSucceeded, ""),
			events.NewDraft(creator, &events.AddFeature{FeatureType: "chars", FeatureValue: float64(len([]rune(text)))}),
		), nil
	}
}

func flagDuplicateTitle(idx TitleIndex, now func() time.Time) Callback {
	return func(ctx context.Context, ev *events.Event, _, after *domain.Submission, creator domain.Agent) ([]events.Draft, error) {
		title := ev.Payload.(*events.SetTitle).Title
		if len(tokenize(title)) == 0 {
			return nil, nil
		}
		candidates, err := idx.RecentTitles(ctx, now().Add(-titleWindow))
		if err != nil {
			return nil, err
		}
		var drafts []events.Draft
		for _, c := range candidates {
			if c.AggregateID == after.AggregateID {
				continue
			}
			if jaccard(title, c.Title) > titleSimilarityThreshold {
				drafts = append(drafts, events.NewDraft(creator, &events.AddMetadataFlag{
					FlagType: "possible duplicate title",
					Field:    "title",
					FlagData: map[string]any{"matching_id": c.AggregateID, "matching_title": c.Title},
				}))
			}
		}
		return drafts, nil
	}
}

func flagExcessiveUnicode(_ context.Context, ev *events.Event, _, _ *domain.Submission, creator domain.Agent) ([]events.Draft, error) {
	title := ev.Payload.(*events.SetTitle).Title
	if title == "" || proportionASCII(title) >= titleASCIIThreshold {
		return nil, nil
	}
	return []events.Draft{events.NewDraft(creator, &events.AddMetadataFlag{
		FlagType: "character_set",
		Field:    "title",
		Comment:  "Possible excessive use of non-ASCII characters.",
	})}, nil
}

func checkAbstractASCII(_ context.Context, ev *events.Event, _, _ *domain.Submission, creator domain.Agent) ([]events.Draft, error) {
	abstract := ev.Payload.(*events.SetAbstract).Abstract
	if abstract == "" {
		return nil, nil
	}
	ratio := proportionASCII(abstract)
	if ratio >= abstractASCIIThreshold {
		return nil, nil
	}
	return []events.Draft{events.NewDraft(creator, &events.AddMetadataFlag{
		FlagType: "character_set",
		Field:    "abstract",
		FlagData: map[string]any{"ascii": ratio},
		Comment:  "Possible excessive use of non-ASCII characters.",
	})}, nil
}

var stopwords = map[string]bool{}

func init() {
	for _, w := range strings.Split("a,an,and,as,at,by,for,from,in,of,on,s,the,to,with,is,was,if,then,that,these,those,them,thus", ",") {
		stopwords[w] = true
	}
}

func tokenize(phrase string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(phrase), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	out := map[string]bool{}
	for _, f := range fields {
		if !stopwords[f] {
			out[f] = true
		}
	}
	return out
}

func jaccard(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	union := len(tb)
	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func proportionASCII(s string) float64 {
	var ascii, total int
	for _, r := range s {
		total++
		if r <= unicode.MaxASCII {
			ascii++
		}
	}
	return float64(ascii) / float64(total)
}
