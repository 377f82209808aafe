package domain

import "time"

// Clone returns a deep copy of s. Projections always operate on a clone so
// that the state before and after an event never share memory.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	out := *s
	out.Creator = s.Creator.clone()
	out.Owner = s.Owner.clone()
	out.Proxy = cloneAgentPtr(s.Proxy)
	out.Client = cloneAgentPtr(s.Client)
	out.Submitted = cloneTimePtr(s.Submitted)
	out.Metadata = s.Metadata.clone()
	if s.SourceContent != nil {
		sc := *s.SourceContent
		out.SourceContent = &sc
	}
	if s.Primary != nil {
		p := *s.Primary
		out.Primary = &p
	}
	if s.Secondary != nil {
		out.Secondary = append([]Classification(nil), s.Secondary...)
	}
	if s.License != nil {
		l := *s.License
		out.License = &l
	}
	if s.SubmitterIsAuthor != nil {
		v := *s.SubmitterIsAuthor
		out.SubmitterIsAuthor = &v
	}
	if s.Preview != nil {
		p := *s.Preview
		out.Preview = &p
	}
	if s.PastVersions != nil {
		out.PastVersions = make([]Submission, len(s.PastVersions))
		for i := range s.PastVersions {
			out.PastVersions[i] = *s.PastVersions[i].Clone()
		}
	}
	out.Holds = cloneMap(s.Holds, func(h Hold) Hold {
		h.Creator = h.Creator.clone()
		return h
	})
	out.Waivers = cloneMap(s.Waivers, func(w Waiver) Waiver {
		w.Creator = w.Creator.clone()
		return w
	})
	out.Flags = cloneMap(s.Flags, func(f Flag) Flag {
		f.Creator = f.Creator.clone()
		f.FlagData = cloneAnyMap(f.FlagData)
		return f
	})
	out.Proposals = cloneMap(s.Proposals, func(p Proposal) Proposal {
		p.Creator = p.Creator.clone()
		p.ProposedEventData = cloneAnyMap(p.ProposedEventData)
		if p.Comments != nil {
			p.Comments = append([]string(nil), p.Comments...)
		}
		return p
	})
	out.UserRequests = cloneMap(s.UserRequests, func(r UserRequest) UserRequest {
		r.Creator = r.Creator.clone()
		if r.Categories != nil {
			r.Categories = append([]string(nil), r.Categories...)
		}
		return r
	})
	if s.ProcessStatus != nil {
		out.ProcessStatus = make([]ProcessStatus, len(s.ProcessStatus))
		for i, p := range s.ProcessStatus {
			p.Creator = p.Creator.clone()
			out.ProcessStatus[i] = p
		}
	}
	out.Annotations = cloneMap(s.Annotations, func(a Annotation) Annotation {
		a.Creator = a.Creator.clone()
		if a.Results != nil {
			a.Results = append([]ClassifierScore(nil), a.Results...)
		}
		return a
	})
	return &out
}

func (m Metadata) clone() Metadata {
	if m.Authors != nil {
		m.Authors = append([]Author(nil), m.Authors...)
	}
	return m
}

func cloneAgentPtr(a *Agent) *Agent {
	if a == nil {
		return nil
	}
	c := a.clone()
	return &c
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMap[V any](in map[string]V, fn func(V) V) map[string]V {
	if in == nil {
		return nil
	}
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = fn(v)
	}
	return out
}

// CloneData deep-copies a decoded JSON object.
func CloneData(in map[string]any) map[string]any { return cloneAnyMap(in) }

// cloneAnyMap copies decoded JSON values. Nested maps and slices are copied
// recursively; scalars are shared.
func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneAnyMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneAny(t[i])
		}
		return out
	default:
		return v
	}
}
