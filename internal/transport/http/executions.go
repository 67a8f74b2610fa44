package http

import (
	"github.com/gofiber/fiber/v2"

	"sync-service/pkg/models"
)

func (h *Handler) ExecutionHistory(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "ExecutionHistory", err)
	}
	scheduleID, err := pathID(c, "id")
	if err != nil {
		return fail(c, "ExecutionHistory", err)
	}
	limit := getQueryInt(c, "limit", 20, 1, 100)
	offset := getQueryInt(c, "offset", 0, 0, 10000)
	status := models.ExecutionStatus(c.Query("status"))

	executions, total, err := h.scheduler.ExecutionHistory(c.Context(), tenant, scheduleID, status, limit, offset)
	if err != nil {
		return fail(c, "ExecutionHistory", err)
	}
	return c.JSON(fiber.Map{
		"executions": executions,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
	})
}

func (h *Handler) GetExecution(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "GetExecution", err)
	}
	id, err := pathID(c, "execution_id")
	if err != nil {
		return fail(c, "GetExecution", err)
	}
	exec, err := h.scheduler.GetExecution(c.Context(), tenant, id)
	if err != nil {
		return fail(c, "GetExecution", err)
	}
	return c.JSON(fiber.Map{"execution": exec})
}

// ExecutionLogs returns the live buffer for a run in flight, otherwise the
// persisted log lines.
func (h *Handler) ExecutionLogs(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "ExecutionLogs", err)
	}
	id, err := pathID(c, "execution_id")
	if err != nil {
		return fail(c, "ExecutionLogs", err)
	}
	logs, err := h.scheduler.ExecutionLogs(c.Context(), tenant, id)
	if err != nil {
		return fail(c, "ExecutionLogs", err)
	}
	return c.JSON(fiber.Map{"logs": logs})
}

func (h *Handler) CancelExecution(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "CancelExecution", err)
	}
	id, err := pathID(c, "execution_id")
	if err != nil {
		return fail(c, "CancelExecution", err)
	}
	if err := h.scheduler.CancelExecution(c.Context(), tenant, id); err != nil {
		return fail(c, "CancelExecution", err)
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "cancellation requested",
	})
}
