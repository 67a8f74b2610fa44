package http

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"sync-service/internal/scheduler"
	"sync-service/pkg/models"
)

func (h *Handler) CreateSchedule(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "CreateSchedule", err)
	}

	var sched models.SyncSchedule
	if err := c.BodyParser(&sched); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	sched.TenantID = tenant

	if err := h.scheduler.CreateSchedule(c.Context(), &sched); err != nil {
		return fail(c, "CreateSchedule", err)
	}

	log.Printf("✅ [SCHEDULE] Created %s (%s, %s) for tenant %s", sched.ID, sched.Source, sched.Frequency, tenant)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":   "success",
		"schedule": sched,
	})
}

func (h *Handler) ListSchedules(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "ListSchedules", err)
	}
	schedules, err := h.scheduler.ListSchedules(c.Context(), tenant)
	if err != nil {
		return fail(c, "ListSchedules", err)
	}
	return c.JSON(fiber.Map{"schedules": schedules})
}

func (h *Handler) GetSchedule(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "GetSchedule", err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, "GetSchedule", err)
	}
	sched, err := h.scheduler.GetSchedule(c.Context(), tenant, id)
	if err != nil {
		return fail(c, "GetSchedule", err)
	}
	return c.JSON(fiber.Map{"schedule": sched})
}

func (h *Handler) UpdateSchedule(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "UpdateSchedule", err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, "UpdateSchedule", err)
	}

	existing, err := h.scheduler.GetSchedule(c.Context(), tenant, id)
	if err != nil {
		return fail(c, "UpdateSchedule", err)
	}

	var sched models.SyncSchedule
	if err := c.BodyParser(&sched); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	// Identity and run bookkeeping are server-owned.
	sched.ID = existing.ID
	sched.TenantID = tenant
	sched.LastRunAt = existing.LastRunAt
	sched.ConsecutiveFailures = existing.ConsecutiveFailures
	sched.CreatedAt = existing.CreatedAt

	if err := h.scheduler.UpdateSchedule(c.Context(), &sched); err != nil {
		return fail(c, "UpdateSchedule", err)
	}

	return c.JSON(fiber.Map{
		"status":   "success",
		"schedule": sched,
	})
}

func (h *Handler) DeleteSchedule(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "DeleteSchedule", err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, "DeleteSchedule", err)
	}
	if err := h.scheduler.DeleteSchedule(c.Context(), tenant, id); err != nil {
		return fail(c, "DeleteSchedule", err)
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "schedule deleted",
	})
}

// ExecuteSchedule triggers a run outside the schedule's cadence. Bulk-import
// schedules carry their records in the request body.
func (h *Handler) ExecuteSchedule(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "ExecuteSchedule", err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, "ExecuteSchedule", err)
	}

	var bulk *scheduler.BulkPayload
	if len(c.Body()) > 0 {
		var req struct {
			Kind    models.EntityKind `json:"kind"`
			Records []models.Record   `json:"records"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if len(req.Records) > 0 {
			bulk = &scheduler.BulkPayload{Kind: req.Kind, Records: req.Records}
		}
	}

	triggeredBy := c.Get("X-User-ID")
	exec, err := h.scheduler.ExecuteNow(c.Context(), tenant, id, triggeredBy, bulk)
	if err != nil {
		return fail(c, "ExecuteSchedule", err)
	}

	log.Printf("🔄 [EXECUTE] Schedule %s triggered, execution %s", id, exec.ID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":    "running",
		"execution": exec,
	})
}
