package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pressline/internal/domain"
	"pressline/internal/scheduler"
	"pressline/internal/stage"
)

func registerReminders(api huma.API, s scheduler.Scheduler) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-reminder",
		Method:        http.MethodPost,
		Path:          "/reminders",
		Summary:       "Create reminder",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateReminderRequest `json:"body"`
	}) (*struct {
		Body domain.Reminder `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ProjectID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "project_id is required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		channels := domain.Channels{InApp: true}
		if input.Body.Channels != nil {
			channels = domain.Channels{InApp: input.Body.Channels.InApp, Email: input.Body.Channels.Email}
		}
		rm, err := s.Create(ctx, scheduler.CreateOptions{
			ProjectID:    input.Body.ProjectID,
			Title:        input.Body.Title,
			Message:      input.Body.Message,
			TriggerMode:  domain.TriggerMode(input.Body.TriggerMode),
			RemindAt:     input.Body.RemindAt,
			Repeat:       domain.Repeat(input.Body.Repeat),
			WatchStatus:  stage.Status(input.Body.WatchStatus),
			DelayMinutes: input.Body.DelayMinutes,
			Channels:     channels,
			Recipients:   input.Body.Recipients,
			Actor:        principal.actor(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Reminder `json:"body"`
		}{Body: rm}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reminders",
		Method:      http.MethodGet,
		Path:        "/reminders",
		Summary:     "List reminders for a project",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID        string `query:"project_id" required:"true"`
		IncludeCompleted bool   `query:"include_completed"`
	}) (*struct {
		Body []domain.Reminder `json:"body"`
	}, error) {
		if input.ProjectID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "project_id is required", nil)
		}
		if _, err := s.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := s.Repo.ListReminders(ctx, input.ProjectID, input.IncludeCompleted)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Reminder `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-reminder",
		Method:      http.MethodGet,
		Path:        "/reminders/{reminder_id}",
		Summary:     "Get reminder",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ReminderID string `path:"reminder_id"`
	}) (*struct {
		Body domain.Reminder `json:"body"`
	}, error) {
		rm, err := s.Repo.GetReminder(ctx, input.ReminderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Reminder `json:"body"`
		}{Body: rm}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-reminder",
		Method:      http.MethodPatch,
		Path:        "/reminders/{reminder_id}",
		Summary:     "Edit reminder",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ReminderID string              `path:"reminder_id"`
		Body       EditReminderRequest `json:"body"`
	}) (*struct {
		Body domain.Reminder `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := scheduler.EditOptions{
			Title:        input.Body.Title,
			Message:      input.Body.Message,
			RemindAt:     input.Body.RemindAt,
			DelayMinutes: input.Body.DelayMinutes,
			Recipients:   input.Body.Recipients,
		}
		if input.Body.Repeat != nil {
			r := domain.Repeat(*input.Body.Repeat)
			opts.Repeat = &r
		}
		if input.Body.WatchStatus != nil {
			ws := stage.Status(*input.Body.WatchStatus)
			opts.WatchStatus = &ws
		}
		if input.Body.Channels != nil {
			opts.Channels = &domain.Channels{InApp: input.Body.Channels.InApp, Email: input.Body.Channels.Email}
		}
		rm, err := s.Edit(ctx, input.ReminderID, opts, principal.actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Reminder `json:"body"`
		}{Body: rm}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "snooze-reminder",
		Method:      http.MethodPatch,
		Path:        "/reminders/{reminder_id}/snooze",
		Summary:     "Snooze reminder",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ReminderID string        `path:"reminder_id"`
		Body       SnoozeRequest `json:"body"`
	}) (*struct {
		Body domain.Reminder `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rm, err := s.Snooze(ctx, input.ReminderID, input.Body.Minutes, principal.actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Reminder `json:"body"`
		}{Body: rm}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-reminder",
		Method:      http.MethodPatch,
		Path:        "/reminders/{reminder_id}/complete",
		Summary:     "Complete reminder",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ReminderID string `path:"reminder_id"`
	}) (*struct {
		Body domain.Reminder `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rm, err := s.Complete(ctx, input.ReminderID, principal.actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Reminder `json:"body"`
		}{Body: rm}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-reminder",
		Method:      http.MethodPatch,
		Path:        "/reminders/{reminder_id}/cancel",
		Summary:     "Cancel reminder",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ReminderID string `path:"reminder_id"`
	}) (*struct {
		Body domain.Reminder `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rm, err := s.Cancel(ctx, input.ReminderID, principal.actor())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Reminder `json:"body"`
		}{Body: rm}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-reminder",
		Method:      http.MethodDelete,
		Path:        "/reminders/{reminder_id}",
		Summary:     "Delete reminder",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ReminderID string `path:"reminder_id"`
	}) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := s.Delete(ctx, input.ReminderID, principal.actor()); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
