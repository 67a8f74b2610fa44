package http

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"sync-service/internal/conflict"
	"sync-service/pkg/models"
)

var detectableKinds = map[models.EntityKind]bool{
	models.KindUsers:        true,
	models.KindTeams:        true,
	models.KindFields:       true,
	models.KindReservations: true,
}

// DetectConflicts runs detection over a batch of candidate records without
// writing anything. Callers use it to preview a bulk import.
func (h *Handler) DetectConflicts(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "DetectConflicts", err)
	}

	var req struct {
		EntityKind   models.EntityKind `json:"entity_kind"`
		Records      []models.Record   `json:"records"`
		IgnoreFields []string          `json:"ignore_fields,omitempty"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if !detectableKinds[req.EntityKind] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("unknown entity kind %q", req.EntityKind),
		})
	}
	if len(req.Records) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "records required"})
	}

	existing, err := h.entities.ListRecords(c.Context(), tenant, req.EntityKind)
	if err != nil {
		return fail(c, "DetectConflicts", err)
	}

	result, err := h.detector.Detect(c.Context(), tenant, req.EntityKind, req.Records, existing, conflict.DetectOptions{
		IgnoreFields: req.IgnoreFields,
	})
	if err != nil {
		return fail(c, "DetectConflicts", err)
	}

	return c.JSON(result)
}

// ResolveConflicts applies the strategy registry to previously detected
// conflicts. With dry_run the outcome is computed but nothing is written.
func (h *Handler) ResolveConflicts(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "ResolveConflicts", err)
	}

	var req struct {
		Conflicts []models.DataConflict `json:"conflicts"`
		DryRun    bool                  `json:"dry_run"`
		AutoOnly  bool                  `json:"auto_only"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if len(req.Conflicts) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "conflicts required"})
	}

	result := h.resolver.Resolve(c.Context(), req.Conflicts, conflict.ResolveOptions{
		TenantID: tenant,
		DryRun:   req.DryRun,
		AutoOnly: req.AutoOnly,
	})

	return c.JSON(result)
}
