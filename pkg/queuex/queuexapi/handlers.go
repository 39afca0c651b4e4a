package queuexapi

import (
	"github.com/gofiber/fiber/v2"

	"github.com/chatdesk/courier/pkg/errx"
	"github.com/chatdesk/courier/pkg/kernel"
	"github.com/chatdesk/courier/pkg/queuex"
)

// Handler exposes queue administration endpoints.
type Handler struct {
	client *queuex.Client
}

func NewHandler(client *queuex.Client) *Handler {
	return &Handler{client: client}
}

// RegisterRoutes mounts the admin surface under /admin/queues.
func (h *Handler) RegisterRoutes(app *fiber.App, auth *AuthMiddleware) {
	admin := app.Group("/admin", auth.Authenticate())

	admin.Get("/queues/:queue/stats", h.GetStats)
	admin.Post("/queues/:queue/jobs/:id/cancel", h.CancelJob)
	admin.Delete("/queues/:queue/jobs", h.PurgeQueued)
	admin.Get("/jobs/:id", h.GetJob)
	admin.Get("/dead-letters", h.ListDeadLetters)
}

// GetStats returns per-state counts for one queue.
func (h *Handler) GetStats(c *fiber.Ctx) error {
	stats, err := h.client.GetStats(c.Context(), c.Params("queue"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

// CancelJob cancels a job that has not started yet.
func (h *Handler) CancelJob(c *fiber.Ctx) error {
	cancelled, err := h.client.Cancel(c.Context(), c.Params("queue"), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"cancelled": cancelled})
}

// PurgeQueued removes all jobs that have not started yet from a queue.
func (h *Handler) PurgeQueued(c *fiber.Ctx) error {
	if err := h.client.DeleteQueuedJobs(c.Context(), c.Params("queue")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetJob returns the current state of a single job.
func (h *Handler) GetJob(c *fiber.Ctx) error {
	job, err := h.client.GetJob(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(job)
}

// ListDeadLetters returns a page of dead letter records, newest first.
func (h *Handler) ListDeadLetters(c *fiber.Ctx) error {
	opts := kernel.PaginationOptions{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 20),
	}
	if opts.Page < 1 || opts.PageSize < 1 || opts.PageSize > 200 {
		return respondError(c, apiErrors.NewWithMessage(ErrBadRequest, "page and page_size must be positive, page_size at most 200"))
	}
	page, err := h.client.ListDeadLetters(c.Context(), opts)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}

func respondError(c *fiber.Ctx, err error) error {
	if e := errx.AsError(err); e != nil {
		return c.Status(e.HTTPStatus).JSON(fiber.Map{
			"code":  e.Code,
			"error": e.Message,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": err.Error(),
	})
}
