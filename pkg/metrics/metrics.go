package metrics

/*
Labels and so on for metrics used in Cutter.
*/

const (
	LabelBranch  = "branch"
	LabelMethod  = "method"
	LabelRoute   = "route"
	LabelSuccess = "success"

	// Labels for decision and pipeline metrics
	LabelBump     = "bump"
	LabelDecision = "decision"
	LabelPhase    = "phase"
	LabelStage    = "stage"
)
