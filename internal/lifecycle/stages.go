package lifecycle

// Actions accepted by Advance.
const (
	ActionTriggerGeneration = "trigger_generation"
	ActionEdit              = "edit"
	ActionSubmitDraft       = "submit_draft"
	ActionApprove           = "approve"
	ActionReject            = "reject"

	// ActionCreate only appears in history, never in an Advance request.
	ActionCreate = "create"
)

// Statuses outside the per-stage sub-machines.
const (
	StatusIntake               = "intake"
	StatusPendingFinalApproval = "pending_final_approval"
	StatusApproved             = "approved"
	StatusRejected             = "rejected"
)

// Stage is one link of the case chain. Each stage owns a drafting status and
// a pending-review status; approval moves to the next stage's drafting (or to
// final approval after the last stage).
type Stage struct {
	Name          string
	Drafting      string
	PendingReview string
}

func newStage(name string) Stage {
	return Stage{
		Name:          name,
		Drafting:      name + "_drafting",
		PendingReview: name + "_pending_review",
	}
}

// Stages is the ordered chain every case walks.
var Stages = []Stage{
	newStage("prd"),
	newStage("system_design"),
	newStage("effort"),
	newStage("cost"),
	newStage("value"),
	newStage("financial_model"),
}

// StageNames returns the stage names in chain order.
func StageNames() []string {
	names := make([]string, len(Stages))
	for i, s := range Stages {
		names[i] = s.Name
	}
	return names
}

// StageByName looks a stage up by its name.
func StageByName(name string) (Stage, bool) {
	for _, s := range Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// AllStatuses lists every status a case can hold.
func AllStatuses() []string {
	out := []string{StatusIntake}
	for _, s := range Stages {
		out = append(out, s.Drafting, s.PendingReview)
	}
	return append(out, StatusPendingFinalApproval, StatusApproved, StatusRejected)
}

// stageFor classifies a status. kind is "drafting" or "pending_review" when ok.
func stageFor(status string) (stage Stage, kind string, ok bool) {
	for _, s := range Stages {
		switch status {
		case s.Drafting:
			return s, "drafting", true
		case s.PendingReview:
			return s, "pending_review", true
		}
	}
	return Stage{}, "", false
}

// nextAfter returns the stage following s, or ok=false when s is the last.
func nextAfter(s Stage) (Stage, bool) {
	for i, cur := range Stages {
		if cur.Name == s.Name {
			if i+1 < len(Stages) {
				return Stages[i+1], true
			}
			return Stage{}, false
		}
	}
	return Stage{}, false
}

// IsTerminal reports whether no further transition is legal from status.
func IsTerminal(status string) bool {
	return status == StatusApproved || status == StatusRejected
}
