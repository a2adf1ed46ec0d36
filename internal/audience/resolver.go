package audience

import (
	"context"
	"sort"
	"time"

	"tourcast/internal/model"
	logx "tourcast/pkg/logx"
)

// Resolution is a concrete, deduplicated recipient set computed at dispatch
// time. SkippedUnknown counts explicit ids that no longer exist in the
// directory; skipping them is graceful degradation, not an error.
type Resolution struct {
	Recipients     []*Recipient
	SkippedUnknown int
	ResolvedAt     time.Time
}

// IDs returns the resolved recipient ids, in directory order.
func (r Resolution) IDs() []string {
	out := make([]string, 0, len(r.Recipients))
	for _, rc := range r.Recipients {
		out = append(out, rc.ID)
	}
	return out
}

// Resolver turns an audience spec into recipients.
//
// allTourists, role and location specs re-query current directory membership
// on every call, so two resolutions of the same spec may return different
// sets at different times. That is intentional: a broadcast scheduled for
// later reaches whoever matches at send time, not a stale snapshot.
type Resolver struct {
	dir Directory
	log logx.Logger
}

func NewResolver(dir Directory, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{dir: dir, log: log}
}

// Resolve computes the recipient set for spec as of asOf.
//
// Location membership is a point-in-radius test against last-known positions;
// recipients with no known position are excluded, never default-included.
func (r *Resolver) Resolve(ctx context.Context, spec model.AudienceSpec, asOf time.Time) (Resolution, error) {
	res := Resolution{ResolvedAt: asOf}

	switch spec.Kind {
	case model.AudienceAllTourists:
		all, err := r.dir.ListAll(ctx)
		if err != nil {
			return res, err
		}
		res.Recipients = all

	case model.AudienceExplicit:
		seen := make(map[string]bool, len(spec.RecipientIDs))
		for _, id := range spec.RecipientIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			rc, err := r.dir.Get(ctx, id)
			if err != nil {
				if model.IsNotFound(err) {
					res.SkippedUnknown++
					continue
				}
				return res, err
			}
			res.Recipients = append(res.Recipients, rc)
		}
		sort.Slice(res.Recipients, func(i, j int) bool { return res.Recipients[i].ID < res.Recipients[j].ID })

	case model.AudienceLocation:
		all, err := r.dir.ListAll(ctx)
		if err != nil {
			return res, err
		}
		for _, rc := range all {
			if rc.Position == nil {
				continue
			}
			if withinRadius(spec.Center, spec.RadiusMeters, *rc.Position) {
				res.Recipients = append(res.Recipients, rc)
			}
		}

	case model.AudienceRole:
		rs, err := r.dir.ListByRoles(ctx, spec.Roles)
		if err != nil {
			return res, err
		}
		res.Recipients = rs

	default:
		return res, model.Validationf("unknown audience kind %q", spec.Kind)
	}

	if res.SkippedUnknown > 0 {
		r.log.Warn("audience resolution skipped unknown recipients",
			logx.String("kind", string(spec.Kind)),
			logx.Int("skipped", res.SkippedUnknown),
			logx.Int("resolved", len(res.Recipients)))
	} else {
		r.log.Debug("audience resolved",
			logx.String("kind", string(spec.Kind)),
			logx.Int("resolved", len(res.Recipients)))
	}
	return res, nil
}
