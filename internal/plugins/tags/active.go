package tags

import "time"

type activeCandidate struct {
	ID          string
	ReleaseDate time.Time
	CreatedAt   time.Time
}

// latestDeployment picks the deployment with the greatest release date.
// Ties go to the later creation time, then the greater ID. It returns ""
// for an empty slice.
func latestDeployment(cands []activeCandidate) string {
	var best *activeCandidate
	for i := range cands {
		c := &cands[i]
		if best == nil || newer(c, best) {
			best = c
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

func newer(a, b *activeCandidate) bool {
	if !a.ReleaseDate.Equal(b.ReleaseDate) {
		return a.ReleaseDate.After(b.ReleaseDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// DeployedAt returns the release that was in the water at t: the latest
// release date not after t, ties broken as for the active deployment. It
// returns nil when every release is later than t.
func DeployedAt(list []Deployment, t time.Time) *Deployment {
	var (
		best     *Deployment
		bestCand activeCandidate
	)
	for i := range list {
		d := &list[i]
		if d.ReleaseDate.After(t) {
			continue
		}
		c := activeCandidate{ID: d.ID, ReleaseDate: d.ReleaseDate, CreatedAt: d.CreatedAt}
		if best == nil || newer(&c, &bestCand) {
			best, bestCand = d, c
		}
	}
	return best
}
