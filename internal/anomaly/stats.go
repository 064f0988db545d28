package anomaly

import (
	"fmt"
	"math"
	"slices"

	"github.com/sells-group/matchguard/internal/model"
)

// Stats summarizes a sample of values.
type Stats struct {
	N      int
	Mean   float64
	StdDev float64
	Q1     float64
	Median float64
	Q3     float64
}

// IQR returns the interquartile range.
func (s Stats) IQR() float64 {
	return s.Q3 - s.Q1
}

// Describe computes the mean, sample standard deviation and quartiles of
// values. Quartiles use linear interpolation between closest ranks.
func Describe(values []float64) Stats {
	s := Stats{N: len(values)}
	if s.N == 0 {
		return s
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	s.Mean = sum / float64(s.N)

	if s.N > 1 {
		ss := 0.0
		for _, v := range values {
			ss += (v - s.Mean) * (v - s.Mean)
		}
		s.StdDev = math.Sqrt(ss / float64(s.N-1))
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	s.Q1 = Quantile(sorted, 0.25)
	s.Median = Quantile(sorted, 0.5)
	s.Q3 = Quantile(sorted, 0.75)
	return s
}

// Quantile returns the q-quantile of sorted values with linear
// interpolation.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (pos-float64(lo))*(sorted[hi]-sorted[lo])
}

// CheckDistribution flags samples whose z-score exceeds the threshold or
// that fall outside the Tukey fences. Fewer than min_samples values are
// not enough to judge and yield nothing.
func (d *Detector) CheckDistribution(metric string, samples []model.Sample) []model.AnomalyReport {
	if len(samples) < d.cfg.MinSamples {
		return nil
	}
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	st := Describe(values)
	lower := st.Q1 - d.cfg.IQRMultiplier*st.IQR()
	upper := st.Q3 + d.cfg.IQRMultiplier*st.IQR()

	var out []model.AnomalyReport
	for _, s := range samples {
		z := 0.0
		if st.StdDev > 0 {
			z = (s.Value - st.Mean) / st.StdDev
		}

		var check model.AnomalyCheck
		var msg string
		switch {
		case math.Abs(z) > d.cfg.ZScoreThreshold:
			check = model.CheckZScore
			msg = fmt.Sprintf("%s[%s] = %s is an outlier (z=%.2f)", metric, s.Label, num(s.Value), z)
		case s.Value < lower || s.Value > upper:
			check = model.CheckIQR
			msg = fmt.Sprintf("%s[%s] = %s outside IQR fences [%s, %s]", metric, s.Label, num(s.Value),
				num(round(lower)), num(round(upper)))
		default:
			continue
		}

		out = append(out, model.AnomalyReport{
			Metric:            metric,
			Type:              model.AnomalyStatistical,
			Check:             check,
			Severity:          model.SeverityMedium,
			Observed:          s.Value,
			Reference:         model.Range{Min: lower, Max: upper},
			Entity:            s.Label,
			Message:           msg,
			RecommendedAction: recommendedAction(check),
		})
	}
	return out
}

func round(f float64) float64 {
	return math.Round(f*100) / 100
}
