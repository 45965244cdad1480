package telemetry

// Momentum is the dashboard's trend view: short, medium, and long-horizon
// progress projections derived from the event time series. It is never
// stored; it is recomputed from the event log on every read.
type Momentum struct {
	Short  TrendProjection `json:"short"`
	Medium TrendProjection `json:"medium"`
	Long   TrendProjection `json:"long"`
}

// TrendProjection describes where a metric sits now and where its recent
// slope points.
type TrendProjection struct {
	Current   float64 `json:"current"`
	Projected float64 `json:"projected"`
	Direction string  `json:"direction"` // "rising", "stable", "declining"
}

// trendEpsilon is the dead band below which a delta counts as stable.
const trendEpsilon = 0.02

// ComputeMomentum derives the trend view from events in append order. The
// tracked metric is a per-event progress signal blending success and
// confidence. Each horizon looks at a suffix of the series (short 25%,
// medium 50%, long 100%), splits it in half, and projects the delta between
// the halves forward.
func ComputeMomentum(events []Event) Momentum {
	signal := make([]float64, len(events))
	for i, ev := range events {
		s := ev.Confidence
		if ev.Success {
			s = (s + 1) / 2
		} else {
			s = s / 2
		}
		signal[i] = s
	}

	return Momentum{
		Short:  projectWindow(tail(signal, 4)),
		Medium: projectWindow(tail(signal, 2)),
		Long:   projectWindow(signal),
	}
}

// tail returns the last 1/div of the series, at least one element when the
// series is non-empty.
func tail(signal []float64, div int) []float64 {
	if len(signal) == 0 {
		return nil
	}
	n := len(signal) / div
	if n < 1 {
		n = 1
	}
	return signal[len(signal)-n:]
}

func projectWindow(window []float64) TrendProjection {
	if len(window) == 0 {
		return TrendProjection{Direction: "stable"}
	}

	half := len(window) / 2
	if half == 0 {
		v := window[0]
		return TrendProjection{Current: v, Projected: v, Direction: "stable"}
	}

	earlier := mean(window[:half])
	recent := mean(window[half:])
	delta := recent - earlier

	p := TrendProjection{
		Current:   recent,
		Projected: clamp01(recent + delta),
		Direction: "stable",
	}
	if delta > trendEpsilon {
		p.Direction = "rising"
	} else if delta < -trendEpsilon {
		p.Direction = "declining"
	}
	return p
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
