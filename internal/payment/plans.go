package payment

import (
	"sort"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

// Plan is a priced consultation package. Prices are in minor units and
// are never taken from the client.
type Plan struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	Duration string `json:"duration"`
}

var catalog = map[string]Plan{
	"single-consultation": {Slug: "single-consultation", Name: "Single Consultation", Amount: 50000, Duration: "40 min"},
	"follow-up":           {Slug: "follow-up", Name: "Follow-up Visit", Amount: 30000, Duration: "40 min"},
	"care-package":        {Slug: "care-package", Name: "Monthly Care Package", Amount: 180000, Duration: "4 sessions"},
}

func LookupPlan(slug string) (Plan, error) {
	p, ok := catalog[slug]
	if !ok {
		return Plan{}, apperr.Validationf("unknown plan %q", slug)
	}
	return p, nil
}

func Plans() []Plan {
	out := make([]Plan, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Amount < out[j].Amount })
	return out
}
