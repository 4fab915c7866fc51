package threshold

// Process exit codes derived from a verdict.
const (
	ExitCodePassed = 0
	ExitCodeFailed = 1
)

// Result is the outcome of a single threshold.
type Result struct {
	Metric      string  `json:"metric"`
	Expression  string  `json:"expression"`
	Passed      bool    `json:"passed"`
	Value       float64 `json:"value"`
	Display     string  `json:"display"`
	Message     string  `json:"message,omitempty"`
	AbortOnFail bool    `json:"abortOnFail,omitempty"`
}

// Verdict is the overall pass/fail of a run.
type Verdict struct {
	// Passed is true only if every threshold passed and the run was not aborted
	Passed bool `json:"passed"`

	// Aborted is set when an abortOnFail threshold stopped the run early
	Aborted bool `json:"aborted,omitempty"`

	// AbortedBy is the expression that stopped the run
	AbortedBy string `json:"abortedBy,omitempty"`

	Results []Result `json:"results"`
}

// Failed returns the results that did not pass.
func (v *Verdict) Failed() []Result {
	var failed []Result
	for _, r := range v.Results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// ExitCode maps the verdict to a process exit status.
func (v *Verdict) ExitCode() int {
	if v == nil || v.Passed {
		return ExitCodePassed
	}
	return ExitCodeFailed
}
