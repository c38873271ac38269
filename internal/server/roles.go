package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/domain"
	"caseline/internal/lifecycle"
	"caseline/internal/repo"
)

func registerRoles(api huma.API, e lifecycle.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stage-roles",
		Method:      http.MethodGet,
		Path:        "/roles/stages",
		Summary:     "Stage approver role configuration",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StageRolesResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		stages, err := e.Repo.ListStageRoles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StageRolesResponse `json:"body"`
		}{Body: StageRolesResponse{Stages: stages}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-stage-role",
		Method:      http.MethodPut,
		Path:        "/roles/stages/{stage}",
		Summary:     "Change who approves a stage",
	}, func(ctx context.Context, input *struct {
		Stage string `path:"stage" enum:"prd,system_design,effort,cost,value,financial_model"`
		Body  SetStageRoleRequest
	}) (*struct {
		Body domain.StageRole `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if _, ok := lifecycle.StageByName(input.Stage); !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown stage "+input.Stage, nil)
		}
		sr := domain.StageRole{
			Stage:             input.Stage,
			ApproverRole:      input.Body.ApproverRole,
			AllowSelfApproval: input.Body.AllowSelfApproval,
		}
		if err := e.Repo.UpsertStageRole(ctx, sr); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StageRole `json:"body"`
		}{Body: sr}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-final-approver",
		Method:      http.MethodGet,
		Path:        "/roles/final",
		Summary:     "Final approver role",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body FinalApproverResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		role, err := e.Repo.GetSetting(ctx, repo.SettingFinalApproverRole)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FinalApproverResponse `json:"body"`
		}{Body: FinalApproverResponse{Role: role}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-final-approver",
		Method:      http.MethodPut,
		Path:        "/roles/final",
		Summary:     "Change the final approver role",
	}, func(ctx context.Context, input *struct {
		Body SetFinalApproverRequest
	}) (*struct {
		Body FinalApproverResponse `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.SetSetting(ctx, repo.SettingFinalApproverRole, input.Body.Role); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FinalApproverResponse `json:"body"`
		}{Body: FinalApproverResponse{Role: input.Body.Role}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/rbac/grants",
		Summary:     "Grant a role to an actor",
	}, func(ctx context.Context, input *struct {
		Body GrantRoleRequest
	}) (*struct {
		Body ActorRolesResponse `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.GrantRole(ctx, input.Body.ActorID, input.Body.Role); err != nil {
			return nil, handleError(err)
		}
		roles, err := e.Auth.ActorRoles(ctx, input.Body.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorRolesResponse `json:"body"`
		}{Body: ActorRolesResponse{ActorID: input.Body.ActorID, Roles: roles}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodDelete,
		Path:        "/rbac/actors/{actor_id}/roles/{role}",
		Summary:     "Revoke a role from an actor",
	}, func(ctx context.Context, input *struct {
		ActorID string `path:"actor_id"`
		Role    string `path:"role"`
	}) (*struct {
		Body ActorRolesResponse `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.Auth.RevokeRole(ctx, input.ActorID, input.Role); err != nil {
			return nil, handleError(err)
		}
		roles, err := e.Auth.ActorRoles(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorRolesResponse `json:"body"`
		}{Body: ActorRolesResponse{ActorID: input.ActorID, Roles: roles}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "actor-roles",
		Method:      http.MethodGet,
		Path:        "/rbac/actors/{actor_id}/roles",
		Summary:     "Roles granted to an actor",
	}, func(ctx context.Context, input *struct {
		ActorID string `path:"actor_id"`
	}) (*struct {
		Body ActorRolesResponse `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		roles, err := e.Auth.ActorRoles(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorRolesResponse `json:"body"`
		}{Body: ActorRolesResponse{ActorID: input.ActorID, Roles: roles}}, nil
	})
}
