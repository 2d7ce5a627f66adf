package web

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/kronion-io/kronion/pkg/workflow"
)

func (h *Handlers) CreateWorkflow(c fiber.Ctx) error {
	var req workflow.CreateWorkflowRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	wf, err := h.publishingService.CreateDraft(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(wf)
}

func (h *Handlers) GetWorkflows(c fiber.Ctx) error {
	list, err := h.publishingService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": list})
}

func (h *Handlers) GetWorkflow(c fiber.Ctx) error {
	version := 0

	if raw := c.Query("version"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "invalid version")
		}

		version = parsed
	}

	wf, err := h.publishingService.Get(c.Context(), c.Params("id"), version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *Handlers) UpdateWorkflow(c fiber.Ctx) error {
	var req workflow.CreateWorkflowRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	wf, err := h.publishingService.UpdateDraft(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *Handlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.publishingService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) GetWorkflowVersions(c fiber.Ctx) error {
	versions, err := h.publishingService.ListVersions(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"versions": versions})
}

func (h *Handlers) PublishWorkflow(c fiber.Ctx) error {
	wf, err := h.publishingService.Publish(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *Handlers) ArchiveWorkflow(c fiber.Ctx) error {
	wf, err := h.publishingService.Archive(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(wf)
}

func (h *Handlers) PauseWorkflowSchedule(c fiber.Ctx) error {
	if err := h.publishingService.PauseSchedule(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) ResumeWorkflowSchedule(c fiber.Ctx) error {
	if err := h.publishingService.ResumeSchedule(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type runWorkflowRequest struct {
	Input map[string]any `json:"input,omitempty"`
}

func (h *Handlers) RunWorkflow(c fiber.Ctx) error {
	var req runWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&req); err != nil {
			return badRequest(c, "invalid request body: "+err.Error())
		}
	}

	run, err := h.runService.RunManual(c.Context(), c.Params("id"), req.Input)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(run)
}

func (h *Handlers) GetScheduledWorkflows(c fiber.Ctx) error {
	summaries, err := h.runService.ListScheduled(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"scheduled": summaries})
}
