package web

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
)

func (h *Handlers) GetRuns(c fiber.Ctx) error {
	opts := persistence.ListRunsOptions{WorkflowID: c.Query("workflow_id")}

	if raw := c.Query("status"); raw != "" {
		status := models.RunStatus(raw)
		opts.Status = &status
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "invalid limit")
		}

		opts.Limit = limit
	}

	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "invalid offset")
		}

		opts.Offset = offset
	}

	runs, err := h.runService.List(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"runs": runs})
}

func (h *Handlers) GetRun(c fiber.Ctx) error {
	run, err := h.runService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *Handlers) CancelRun(c fiber.Ctx) error {
	run, err := h.runService.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *Handlers) PauseRun(c fiber.Ctx) error {
	run, err := h.runService.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

type resumeRunRequest struct {
	Approvals map[string]bool `json:"approvals,omitempty"`
}

func (h *Handlers) ResumeRun(c fiber.Ctx) error {
	var req resumeRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&req); err != nil {
			return badRequest(c, "invalid request body: "+err.Error())
		}
	}

	run, err := h.runService.Resume(c.Context(), c.Params("id"), req.Approvals)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *Handlers) GetRunEvents(c fiber.Ctx) error {
	var since time.Time

	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return badRequest(c, "invalid since timestamp, expected RFC3339")
		}

		since = parsed
	}

	events, err := h.runService.Events(c.Context(), c.Params("id"), since)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"events": events})
}

func (h *Handlers) GetRunTrace(c fiber.Ctx) error {
	trace, err := h.runService.Trace(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"node_runs": trace})
}

type backfillRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (h *Handlers) BackfillTrigger(c fiber.Ctx) error {
	var req backfillRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if req.From.IsZero() || req.To.IsZero() {
		return badRequest(c, "from and to are required")
	}

	runs, err := h.runService.Backfill(c.Context(), c.Params("id"), req.From, req.To)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"runs": runs})
}

func (h *Handlers) TriggerWebhook(c fiber.Ctx) error {
	var payload map[string]any
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&payload); err != nil {
			return badRequest(c, "invalid request body: "+err.Error())
		}
	}

	run, err := h.runService.TriggerWebhook(c.Context(), c.Params("token"), payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(run)
}
