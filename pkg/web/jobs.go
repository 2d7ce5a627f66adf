package web

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/kronion-io/kronion/pkg/jobs"
	"github.com/kronion-io/kronion/pkg/models"
	"github.com/kronion-io/kronion/pkg/persistence"
)

func (h *Handlers) CreateJob(c fiber.Ctx) error {
	var req jobs.CreateJobRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	job, err := h.jobService.Create(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(job)
}

func (h *Handlers) GetJobs(c fiber.Ctx) error {
	list, err := h.jobService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"jobs": list})
}

func (h *Handlers) GetJob(c fiber.Ctx) error {
	job, err := h.jobService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(job)
}

func (h *Handlers) UpdateJob(c fiber.Ctx) error {
	var req jobs.UpdateJobRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	job, err := h.jobService.Update(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(job)
}

func (h *Handlers) DeleteJob(c fiber.Ctx) error {
	if err := h.jobService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) PauseJob(c fiber.Ctx) error {
	job, err := h.jobService.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(job)
}

func (h *Handlers) ResumeJob(c fiber.Ctx) error {
	job, err := h.jobService.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(job)
}

func (h *Handlers) RunJobNow(c fiber.Ctx) error {
	job, err := h.jobService.RunNow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(job)
}

func (h *Handlers) GetJobHistory(c fiber.Ctx) error {
	opts, err := parseJobRunOptions(c)
	if err != nil {
		return badRequest(c, "invalid query parameters: "+err.Error())
	}

	history, err := h.jobService.History(c.Context(), c.Params("id"), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"runs": history})
}

func (h *Handlers) ExportJobs(c fiber.Ctx) error {
	doc, err := h.jobService.Export(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(doc)
}

func (h *Handlers) ImportJobs(c fiber.Ctx) error {
	var doc jobs.ExportDocument
	if err := c.Bind().Body(&doc); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	overwrite := false

	if raw := c.Query("overwrite"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "invalid overwrite flag")
		}

		overwrite = parsed
	}

	summary, err := h.jobService.Import(c.Context(), &doc, overwrite)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(summary)
}

func parseJobRunOptions(c fiber.Ctx) (persistence.ListJobRunsOptions, error) {
	var opts persistence.ListJobRunsOptions

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return opts, err
		}

		opts.Limit = limit
	}

	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return opts, err
		}

		opts.Offset = offset
	}

	if raw := c.Query("result"); raw != "" {
		result := models.JobRunResult(raw)
		opts.Result = &result
	}

	if raw := c.Query("order"); raw == "asc" {
		opts.OldestFirst = true
	}

	return opts, nil
}
