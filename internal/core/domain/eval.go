package domain

// EvalSet maps an expected expert to the queries that should route to it.
type EvalSet map[string][]string

// ExpertEval tallies routing outcomes for one expected expert. Confusions
// counts where the misrouted queries actually landed.
type ExpertEval struct {
	Total      int            `json:"total"`
	Correct    int            `json:"correct"`
	Confusions map[string]int `json:"confusions,omitempty"`
}

func (e *ExpertEval) Accuracy() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Correct) / float64(e.Total)
}

// EvalReport aggregates routing accuracy over a labeled set.
type EvalReport struct {
	Total   int                    `json:"total"`
	Correct int                    `json:"correct"`
	Experts map[string]*ExpertEval `json:"experts"`
}

func NewEvalReport() *EvalReport {
	return &EvalReport{Experts: make(map[string]*ExpertEval)}
}

func (r *EvalReport) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

// Record adds one routed sample to the tally.
func (r *EvalReport) Record(expected, actual string) {
	e, ok := r.Experts[expected]
	if !ok {
		e = &ExpertEval{}
		r.Experts[expected] = e
	}
	e.Total++
	r.Total++
	if expected == actual {
		e.Correct++
		r.Correct++
		return
	}
	if e.Confusions == nil {
		e.Confusions = make(map[string]int)
	}
	e.Confusions[actual]++
}
