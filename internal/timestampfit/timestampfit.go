// Package timestampfit corrects cube-clock drift by fitting an ordinary
// least squares regression between a cube's self-reported move timestamps
// and the host's wall-clock timestamps at the same moves. It plays the
// same "derive one corrective number from a short time series" role the
// teacher repo's internal/ota/manager.go plays for retry/backoff timing,
// reshaped for clock-skew correction instead of update scheduling.
package timestampfit

// Move is the minimal shape TimestampFitter needs: a cube-clock reading
// and (possibly absent, for history-recovered moves) a host-clock
// reading, both in milliseconds.
type Move struct {
	CubeTs *int64
	HostTs *int64
}

const gapFillStepMs = 50

// Fit returns a copy of moves with CubeTs corrected to the host clock's
// time base. It does not mutate the input slice.
func Fit(moves []Move) []Move {
	out := make([]Move, len(moves))
	copy(out, moves)
	if len(out) == 0 {
		return out
	}

	fillGaps(out)

	slope, intercept := regress(out)

	fitted := make([]*int64, len(out))
	for i, m := range out {
		if m.CubeTs == nil {
			continue
		}
		v := roundInt64(slope*float64(*m.CubeTs) + intercept)
		fitted[i] = &v
	}

	var offset int64
	if fitted[0] != nil {
		offset = *fitted[0]
	}
	for i := range out {
		if fitted[i] == nil {
			continue
		}
		corrected := *fitted[i] - offset
		out[i].CubeTs = &corrected
	}
	return out
}

// Skew reports the percentage by which the cube clock runs faster (positive)
// or slower (negative) than the host clock, to millesimal precision. It is
// the mirror regression of Fit's: host_ts -> cube_ts.
func Skew(moves []Move) float64 {
	if len(moves) == 0 {
		return 0
	}
	filled := make([]Move, len(moves))
	copy(filled, moves)
	fillGaps(filled)

	mirrored := make([]Move, len(filled))
	for i, m := range filled {
		mirrored[i] = Move{CubeTs: m.HostTs, HostTs: m.CubeTs}
	}
	slope, _ := regress(mirrored)
	return roundMillesimal((slope - 1) * 100)
}

// fillGaps fills null CubeTs entries in place: first a tail-to-head pass
// (each missing value copies the next move's cube_ts minus the fixed
// step), then a head-to-tail pass for whatever the first pass could not
// reach (a run ending the sequence).
func fillGaps(moves []Move) {
	for i := len(moves) - 2; i >= 0; i-- {
		if moves[i].CubeTs == nil && moves[i+1].CubeTs != nil {
			v := *moves[i+1].CubeTs - gapFillStepMs
			moves[i].CubeTs = &v
		}
	}
	for i := 1; i < len(moves); i++ {
		if moves[i].CubeTs == nil && moves[i-1].CubeTs != nil {
			v := *moves[i-1].CubeTs + gapFillStepMs
			moves[i].CubeTs = &v
		}
	}
}

// regress computes the OLS slope/intercept of y (HostTs) on x (CubeTs)
// over all moves where both are present.
func regress(moves []Move) (slope, intercept float64) {
	var xs, ys []float64
	for _, m := range moves {
		if m.CubeTs == nil || m.HostTs == nil {
			continue
		}
		xs = append(xs, float64(*m.CubeTs))
		ys = append(ys, float64(*m.HostTs))
	}
	n := len(xs)
	if n == 0 {
		return 1, 0
	}

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)

	var varX, covXY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		varX += dx * dx
		covXY += dx * dy
	}
	varX /= float64(n)
	covXY /= float64(n)

	if abs(varX) < 1e-3 {
		slope = 1
	} else {
		slope = covXY / varX
	}
	intercept = meanY - slope*meanX
	return slope, intercept
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func roundInt64(v float64) int64 {
	if v >= 0 {
		return int64(v + 0.5)
	}
	return int64(v - 0.5)
}

// roundMillesimal rounds v to three decimal places.
func roundMillesimal(v float64) float64 {
	return float64(roundInt64(v*1000)) / 1000
}
