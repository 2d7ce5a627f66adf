// Package web provides the REST API over jobs, workflows and runs.
// Error responses follow RFC 7807.
package web

import (
	"github.com/gofiber/fiber/v3"

	"github.com/kronion-io/kronion/pkg/jobs"
	"github.com/kronion-io/kronion/pkg/workflow"
)

type Handlers struct {
	jobService        *jobs.Service
	publishingService *workflow.PublishingService
	runService        *workflow.RunService
}

func NewHandlers(
	jobService *jobs.Service,
	publishingService *workflow.PublishingService,
	runService *workflow.RunService,
) *Handlers {
	return &Handlers{
		jobService:        jobService,
		publishingService: publishingService,
		runService:        runService,
	}
}

// Register mounts every route on the app. Kept separate from app
// construction so tests can mount onto a bare fiber.App.
func (h *Handlers) Register(app *fiber.App) {
	j := app.Group("/jobs")
	j.Get("/", h.GetJobs)
	j.Post("/", h.CreateJob)
	j.Get("/export", h.ExportJobs)
	j.Post("/import", h.ImportJobs)
	j.Get("/:id", h.GetJob)
	j.Patch("/:id", h.UpdateJob)
	j.Delete("/:id", h.DeleteJob)
	j.Post("/:id/pause", h.PauseJob)
	j.Post("/:id/resume", h.ResumeJob)
	j.Post("/:id/run-now", h.RunJobNow)
	j.Get("/:id/history", h.GetJobHistory)

	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/scheduled", h.GetScheduledWorkflows)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Get("/:id/versions", h.GetWorkflowVersions)
	w.Post("/:id/publish", h.PublishWorkflow)
	w.Post("/:id/archive", h.ArchiveWorkflow)
	w.Post("/:id/run", h.RunWorkflow)
	w.Post("/:id/schedule/pause", h.PauseWorkflowSchedule)
	w.Post("/:id/schedule/resume", h.ResumeWorkflowSchedule)

	r := app.Group("/runs")
	r.Get("/", h.GetRuns)
	r.Get("/:id", h.GetRun)
	r.Post("/:id/cancel", h.CancelRun)
	r.Post("/:id/pause", h.PauseRun)
	r.Post("/:id/resume", h.ResumeRun)
	r.Get("/:id/events", h.GetRunEvents)
	r.Get("/:id/trace", h.GetRunTrace)

	app.Post("/triggers/:id/backfill", h.BackfillTrigger)
	app.Post("/webhooks/:token", h.TriggerWebhook)
}
