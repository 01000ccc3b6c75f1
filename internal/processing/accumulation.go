package processing

import (
	"fmt"

	"climate-platform/internal/models"
)

// DefaultHorizon is the longest accumulation run, in days, that is searched for
const DefaultHorizon = 50

// SplitRuns scans parsed observations left to right and returns the
// multi-day accumulation runs it finds.
//
// At an accumulation start at index i the first accumulation end among
// offsets [0, min(horizon, n-i)) closes the run [i, i+x]; scanning resumes
// after the run. A start with no end inside the horizon is left unresolved
// and does not appear in the result. Runs are returned in index order and
// never overlap. The input is not modified.
func SplitRuns(obs []models.Observation, horizon int) []models.AccumulationRun {
	if horizon < 1 {
		return nil
	}

	var runs []models.AccumulationRun
	n := len(obs)
	for i := 0; i < n; {
		if obs[i].Kind != models.ObservationAccumulationStart {
			i++
			continue
		}

		limit := min(horizon, n-i)
		end := -1
		for x := 0; x < limit; x++ {
			if obs[i+x].Kind == models.ObservationAccumulationEnd {
				end = i + x
				break
			}
		}
		if end < 0 {
			i++
			continue
		}

		runs = append(runs, models.AccumulationRun{
			Start: i,
			End:   end,
			Total: obs[end].Value,
		})
		i = end + 1
	}
	return runs
}

// DistributionPolicy spreads an accumulation total over the days of its run
type DistributionPolicy interface {
	Name() string
	Distribute(run models.AccumulationRun, out []float64)
}

// AverageAcrossRun assigns total / run length to every day in the run
type AverageAcrossRun struct{}

// Name returns the configuration name of the policy
func (AverageAcrossRun) Name() string { return PolicyAverageAcrossRun }

// Distribute writes the per-day share into out[run.Start:run.End+1]
func (AverageAcrossRun) Distribute(run models.AccumulationRun, out []float64) {
	share := run.Total / float64(run.Len())
	for k := run.Start; k <= run.End; k++ {
		out[k] = share
	}
}

// Policy names accepted by configuration
const (
	PolicyAverageAcrossRun = "average-across-run"
	PolicyEqualToValue     = "equal-to-value"
	PolicyForceZero        = "force-zero"
)

// LookupDistributionPolicy resolves a configured distribution policy name
func LookupDistributionPolicy(name string) (DistributionPolicy, error) {
	switch name {
	case "", PolicyAverageAcrossRun, "avg":
		return AverageAcrossRun{}, nil
	default:
		return nil, &models.ValidationError{
			Field:   "accumulation_distribution_policy",
			Value:   name,
			Message: fmt.Sprintf("unsupported accumulation distribution policy %q", name),
		}
	}
}
