package domain

type Case struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Summary     string              `json:"summary,omitempty"`
	InitiatorID string              `json:"initiator_id"`
	Status      string              `json:"status"`
	Version     int64               `json:"version"`
	Artifacts   map[string]Artifact `json:"artifacts,omitempty"`
	History     []Event             `json:"history,omitempty"`
	CreatedAt   string              `json:"created_at" format:"date-time"`
	UpdatedAt   string              `json:"updated_at" format:"date-time"`
}

type Artifact struct {
	CaseID      string `json:"case_id"`
	Stage       string `json:"stage" enum:"prd,system_design,effort,cost,value,financial_model"`
	Content     string `json:"content"`
	Version     int    `json:"version"`
	GeneratedBy string `json:"generated_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	CaseID     string `json:"case_id"`
	TS         string `json:"ts" format:"date-time"`
	ActorID    string `json:"actor_id"`
	Action     string `json:"action" enum:"create,trigger_generation,edit,submit_draft,approve,reject"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Note       string `json:"note,omitempty"`
}

type StageRole struct {
	Stage             string `json:"stage"`
	ApproverRole      string `json:"approver_role"`
	AllowSelfApproval bool   `json:"allow_self_approval"`
}

type GenerationRequest struct {
	ID          int64  `json:"id"`
	CaseID      string `json:"case_id"`
	Stage       string `json:"stage"`
	RequestedBy string `json:"requested_by"`
	RequestedAt string `json:"requested_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
