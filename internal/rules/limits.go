package rules

import (
	"context"
	"fmt"
	"sort"

	"submitline/internal/domain"
	"submitline/internal/events"
)

// SizeLimits bound source packages and compiled previews, in bytes. Zero
// fields take the defaults below.
type SizeLimits struct {
	CompressedPackageMax   int64
	UncompressedPackageMax int64
	PreviewMax             int64
}

const (
	defaultCompressedPackageMax   = 6_000_000
	defaultUncompressedPackageMax = 18_000_000
	defaultPreviewMax             = 15_000_000
)

func (l SizeLimits) withDefaults() SizeLimits {
	if l.CompressedPackageMax <= 0 {
		l.CompressedPackageMax = defaultCompressedPackageMax
	}
	if l.UncompressedPackageMax <= 0 {
		l.UncompressedPackageMax = defaultUncompressedPackageMax
	}
	if l.PreviewMax <= 0 {
		l.PreviewMax = defaultPreviewMax
	}
	return l
}

// holdWhile adds a hold of type t when oversize and none is present, and
// lifts every hold of type t once the submission is back within bounds.
func holdWhile(oversize bool, t domain.HoldType, msg string, s *domain.Submission, creator domain.Agent) []events.Draft {
	if oversize {
		if s.HasHoldOfType(t) {
			return nil
		}
		return []events.Draft{events.NewDraft(creator, &events.AddHold{HoldType: t, HoldReason: msg})}
	}
	var ids []string
	for id, h := range s.Holds {
		if h.Type == t {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	drafts := make([]events.Draft, 0, len(ids))
	for _, id := range ids {
		drafts = append(drafts, events.NewDraft(creator, &events.RemoveHold{HoldEventID: id, RemovalReason: msg}))
	}
	return drafts
}

func checkSourceSize(limits SizeLimits) Callback {
	return func(_ context.Context, _ *events.Event, _, after *domain.Submission, creator domain.Agent) ([]events.Draft, error) {
		src := after.SourceContent
		if src == nil {
			return holdWhile(false, domain.HoldSourceOversize, "source removed", after, creator), nil
		}
		msg := fmt.Sprintf("%d bytes; %d bytes compressed", src.UncompressedSize, src.CompressedSize)
		oversize := src.UncompressedSize > limits.UncompressedPackageMax || src.CompressedSize > limits.CompressedPackageMax
		return holdWhile(oversize, domain.HoldSourceOversize, msg, after, creator), nil
	}
}

func checkPreviewSize(limits SizeLimits) Callback {
	return func(_ context.Context, _ *events.Event, _, after *domain.Submission, creator domain.Agent) ([]events.Draft, error) {
		if after.Preview == nil {
			return nil, nil
		}
		msg := fmt.Sprintf("PDF is %d bytes", after.Preview.Size)
		return holdWhile(after.Preview.Size > limits.PreviewMax, domain.HoldPDFOversize, msg, after, creator), nil
	}
}
