package server

import "caseline/internal/domain"

// Request payloads

type CreateCaseRequest struct {
	ID      *string `json:"id,omitempty"`
	Title   string  `json:"title"`
	Summary *string `json:"summary,omitempty"`
}

type SubmitDraftRequest struct {
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type ApproveRequest struct {
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type RejectRequest struct {
	Reason          *string `json:"reason,omitempty"`
	ExpectedVersion *int64  `json:"expected_version,omitempty"`
}

type EditRequest struct {
	Content         string `json:"content"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type TriggerGenerationRequest struct {
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

type SetStageRoleRequest struct {
	ApproverRole      string `json:"approver_role"`
	AllowSelfApproval bool   `json:"allow_self_approval,omitempty"`
}

type SetFinalApproverRequest struct {
	Role string `json:"role"`
}

type GrantRoleRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
}

// Response payloads

type TransitionResponse struct {
	Status string      `json:"status"`
	Case   domain.Case `json:"case"`
}

type StageRolesResponse struct {
	Stages []domain.StageRole `json:"stages"`
}

type FinalApproverResponse struct {
	Role string `json:"role"`
}

type ActorRolesResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
}

type HistoryResponse struct {
	CaseID string         `json:"case_id"`
	Events []domain.Event `json:"events"`
}

type GenerationRequestsResponse struct {
	CaseID   string                     `json:"case_id"`
	Requests []domain.GenerationRequest `json:"requests"`
}
