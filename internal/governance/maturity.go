package governance

// Confidence band boundaries, inclusive on the lower bound of each band.
const (
	internThreshold     = 0.5
	supervisedThreshold = 0.7
	autonomousThreshold = 0.9
)

// DetermineMaturity maps an agent's explicit status or confidence score to a
// maturity level. An explicit valid status always wins over the
// confidence-derived level. For any confidence input the ordered comparisons
// return a valid level; out-of-range values fall into the nearest band.
func DetermineMaturity(status string, confidence float64) MaturityLevel {
	if lvl := MaturityLevel(status); lvl.Valid() {
		return lvl
	}

	switch {
	case confidence < internThreshold:
		return MaturityStudent
	case confidence < supervisedThreshold:
		return MaturityIntern
	case confidence < autonomousThreshold:
		return MaturitySupervised
	default:
		return MaturityAutonomous
	}
}

// MaturityForAgent resolves the effective maturity of an agent record.
func MaturityForAgent(agent *Agent) MaturityLevel {
	return DetermineMaturity(agent.Status, agent.Confidence)
}
