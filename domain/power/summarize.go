package power

import (
	"math"

	"github.com/montanaflynn/stats"
)

// AveragePower is the mean of a 0/1 decision vector, i.e. the fraction of
// rejections. An empty vector has zero power.
func AveragePower(decisions []bool) float64 {
	if len(decisions) == 0 {
		return 0
	}
	values := make([]float64, len(decisions))
	for i, d := range decisions {
		if d {
			values[i] = 1
		}
	}
	mean, err := stats.Mean(values)
	if err != nil {
		return 0
	}
	return mean
}

// SummaryTarget names an estimate to summarize and its population value
type SummaryTarget struct {
	Name       string
	Kind       EstimateKind
	Population float64
}

// Summarize aggregates converged replications into one row. Replications that
// failed to converge are counted but contribute nothing else.
func Summarize(n int, outcomes []ReplicationOutcome, targets []SummaryTarget) PowerRow {
	row := PowerRow{N: n, Replications: len(outcomes)}

	converged := make([]ReplicationOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Converged {
			converged = append(converged, o)
		}
	}
	row.Converged = len(converged)

	for _, target := range targets {
		var values, ses, widths []float64
		var rejects, covers []bool
		for _, o := range converged {
			e, ok := o.Lookup(target.Name)
			if !ok {
				continue
			}
			values = append(values, e.Value)
			ses = append(ses, e.SE)
			widths = append(widths, e.Upper-e.Lower)
			rejects = append(rejects, e.Reject)
			covers = append(covers, e.Covered)
		}

		row.Parameters = append(row.Parameters, ParameterSummary{
			Name:            target.Name,
			Kind:            target.Kind,
			Population:      target.Population,
			EstimateAverage: finiteMean(values),
			EstimateSD:      finiteSampleSD(values),
			AverageSE:       finiteMean(ses),
			AverageCIWidth:  finiteMean(widths),
			Power:           AveragePower(rejects),
			Coverage:        AveragePower(covers),
		})
	}
	return row
}

func finiteMean(values []float64) float64 {
	m, err := stats.Mean(values)
	if err != nil || math.IsNaN(m) || math.IsInf(m, 0) {
		return 0
	}
	return m
}

func finiteSampleSD(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sd, err := stats.StandardDeviationSample(values)
	if err != nil || math.IsNaN(sd) || math.IsInf(sd, 0) {
		return 0
	}
	return sd
}
