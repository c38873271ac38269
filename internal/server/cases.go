package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/domain"
	"caseline/internal/lifecycle"
)

func registerCases(api huma.API, e lifecycle.Engine) {
	type casePath struct {
		CaseID string `path:"case_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "create-case",
		Method:      http.MethodPost,
		Path:        "/cases",
		Summary:     "Open a business case",
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest
	}) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := lifecycle.CaseCreateOptions{
			Title: input.Body.Title,
			Actor: identityFor(principal),
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.Summary != nil {
			opts.Summary = *input.Body.Summary
		}
		c, err := e.CreateCase(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body []domain.Case `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCases(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Case `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Show a case with artifacts and history",
	}, func(ctx context.Context, input *casePath) (*struct {
		Body domain.Case `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetCaseFull(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Case `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-history",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/history",
		Summary:     "Case audit history",
	}, func(ctx context.Context, input *casePath) (*struct {
		Body HistoryResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		evs, err := e.Repo.ListEvents(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HistoryResponse `json:"body"`
		}{Body: HistoryResponse{CaseID: input.CaseID, Events: evs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-artifact",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/artifacts/{stage}",
		Summary:     "Read one stage artifact",
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Stage  string `path:"stage" enum:"prd,system_design,effort,cost,value,financial_model"`
	}) (*struct {
		Body domain.Artifact `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetArtifact(ctx, input.CaseID, input.Stage)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Artifact `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "case-generation-requests",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/generation-requests",
		Summary:     "Emitted generation requests for a case",
	}, func(ctx context.Context, input *casePath) (*struct {
		Body GenerationRequestsResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		reqs, err := e.Repo.ListGenerationRequests(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GenerationRequestsResponse `json:"body"`
		}{Body: GenerationRequestsResponse{CaseID: input.CaseID, Requests: reqs}}, nil
	})

	advance := func(ctx context.Context, req lifecycle.Request) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		res, err := e.Advance(ctx, req)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: TransitionResponse{Status: res.Status, Case: res.Case}}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "submit-draft",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/submit",
		Summary:     "Submit the current stage draft for review",
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Body   SubmitDraftRequest
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return advance(ctx, lifecycle.Request{
			CaseID:          input.CaseID,
			Action:          lifecycle.ActionSubmitDraft,
			Actor:           identityFor(principal),
			ExpectedVersion: input.Body.ExpectedVersion,
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/approve",
		Summary:     "Approve the pending review",
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Body   ApproveRequest
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return advance(ctx, lifecycle.Request{
			CaseID:          input.CaseID,
			Action:          lifecycle.ActionApprove,
			Actor:           identityFor(principal),
			ExpectedVersion: input.Body.ExpectedVersion,
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/reject",
		Summary:     "Reject the pending review",
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Body   RejectRequest
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req := lifecycle.Request{
			CaseID:          input.CaseID,
			Action:          lifecycle.ActionReject,
			Actor:           identityFor(principal),
			ExpectedVersion: input.Body.ExpectedVersion,
		}
		if input.Body.Reason != nil {
			req.Reason = *input.Body.Reason
		}
		return advance(ctx, req)
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-artifact",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/edit",
		Summary:     "Edit the current stage artifact",
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Body   EditRequest
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return advance(ctx, lifecycle.Request{
			CaseID:          input.CaseID,
			Action:          lifecycle.ActionEdit,
			Actor:           identityFor(principal),
			Content:         input.Body.Content,
			ExpectedVersion: input.Body.ExpectedVersion,
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "trigger-generation",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/generate",
		Summary:     "Request draft generation for the current stage",
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Body   TriggerGenerationRequest
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		principal, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return advance(ctx, lifecycle.Request{
			CaseID:          input.CaseID,
			Action:          lifecycle.ActionTriggerGeneration,
			Actor:           identityFor(principal),
			ExpectedVersion: input.Body.ExpectedVersion,
		})
	})
}
