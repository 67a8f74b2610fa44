package http

import (
	"encoding/json"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"sync-service/pkg/models"
)

type integrationRequest struct {
	UserID        uuid.UUID            `json:"user_id"`
	Provider      models.SyncSource    `json:"provider"`
	Credentials   json.RawMessage      `json:"credentials,omitempty"`
	SyncDirection models.SyncDirection `json:"sync_direction"`
	SyncFrequency models.Frequency     `json:"sync_frequency"`
	Settings      models.SyncSettings  `json:"settings"`
}

// CreateIntegration connects an external calendar. Credentials arrive once,
// are encrypted immediately, and are never echoed back.
func (h *Handler) CreateIntegration(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "CreateIntegration", err)
	}

	var req integrationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.UserID == uuid.Nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id required"})
	}
	if req.Provider != models.SourceGoogleCalendar {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unsupported provider"})
	}
	if len(req.Credentials) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "credentials required"})
	}

	encrypted, err := h.cipher.Encrypt(req.Credentials)
	if err != nil {
		return fail(c, "CreateIntegration", err)
	}

	integration := &models.CalendarIntegration{
		TenantID:      tenant,
		UserID:        req.UserID,
		Provider:      req.Provider,
		Credentials:   encrypted,
		SyncDirection: req.SyncDirection,
		SyncFrequency: req.SyncFrequency,
		Settings:      req.Settings,
	}
	if integration.SyncDirection == "" {
		integration.SyncDirection = models.DirectionBidirectional
	}
	if integration.SyncFrequency == "" {
		integration.SyncFrequency = models.FrequencyHourly
	}

	if err := h.integrations.Create(c.Context(), integration); err != nil {
		return fail(c, "CreateIntegration", err)
	}

	log.Printf("✅ [INTEGRATION] Connected %s for user %s (tenant %s)", integration.Provider, integration.UserID, tenant)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":      "success",
		"integration": integration,
	})
}

func (h *Handler) ListIntegrations(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "ListIntegrations", err)
	}
	integrations, err := h.integrations.ListByTenant(c.Context(), tenant)
	if err != nil {
		return fail(c, "ListIntegrations", err)
	}
	return c.JSON(fiber.Map{"integrations": integrations})
}

func (h *Handler) GetIntegration(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "GetIntegration", err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, "GetIntegration", err)
	}
	integration, err := h.integrations.GetByID(c.Context(), tenant, id)
	if err != nil {
		return fail(c, "GetIntegration", err)
	}
	return c.JSON(fiber.Map{"integration": integration})
}

// UpdateIntegration changes direction, cadence, or settings. New credentials
// replace the stored ciphertext; an absent credentials field keeps it.
func (h *Handler) UpdateIntegration(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "UpdateIntegration", err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, "UpdateIntegration", err)
	}

	integration, err := h.integrations.GetByID(c.Context(), tenant, id)
	if err != nil {
		return fail(c, "UpdateIntegration", err)
	}

	var req integrationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	if req.SyncDirection != "" {
		integration.SyncDirection = req.SyncDirection
	}
	if req.SyncFrequency != "" {
		integration.SyncFrequency = req.SyncFrequency
	}
	integration.Settings = req.Settings
	if len(req.Credentials) > 0 {
		encrypted, err := h.cipher.Encrypt(req.Credentials)
		if err != nil {
			return fail(c, "UpdateIntegration", err)
		}
		integration.Credentials = encrypted
	}

	if err := h.integrations.Update(c.Context(), integration); err != nil {
		return fail(c, "UpdateIntegration", err)
	}

	return c.JSON(fiber.Map{
		"status":      "success",
		"integration": integration,
	})
}

// DeleteIntegration disconnects a calendar and drops every event link it
// owns. System-authored provider events are removed best-effort first;
// provider failures never block the disconnect.
func (h *Handler) DeleteIntegration(c *fiber.Ctx) error {
	tenant, err := tenantID(c)
	if err != nil {
		return fail(c, "DeleteIntegration", err)
	}
	id, err := pathID(c, "id")
	if err != nil {
		return fail(c, "DeleteIntegration", err)
	}

	integration, err := h.integrations.GetByID(c.Context(), tenant, id)
	if err != nil {
		return fail(c, "DeleteIntegration", err)
	}

	h.cleanupProviderEvents(c, integration)

	removed, err := h.links.DeleteByIntegration(c.Context(), id)
	if err != nil {
		return fail(c, "DeleteIntegration", err)
	}
	if err := h.integrations.Delete(c.Context(), tenant, id); err != nil {
		return fail(c, "DeleteIntegration", err)
	}

	log.Printf("🔄 [INTEGRATION] Disconnected %s, removed %d event links", id, removed)
	return c.JSON(fiber.Map{
		"status":        "success",
		"message":       "integration disconnected",
		"links_removed": removed,
	})
}

func (h *Handler) cleanupProviderEvents(c *fiber.Ctx, integration *models.CalendarIntegration) {
	creds, err := h.cipher.Decrypt(integration.Credentials)
	if err != nil {
		log.Printf("⚠️ [INTEGRATION] Skipping provider cleanup for %s: %v", integration.ID, err)
		return
	}
	provider, err := h.adapters.Open(c.Context(), integration.Provider, creds, integration.Settings)
	if err != nil {
		log.Printf("⚠️ [INTEGRATION] Skipping provider cleanup for %s: %v", integration.ID, err)
		return
	}
	links, err := h.links.ListByIntegration(c.Context(), integration.ID)
	if err != nil {
		log.Printf("⚠️ [INTEGRATION] Could not list event links for %s: %v", integration.ID, err)
		return
	}

	calendarID := integration.Settings.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	deleted := 0
	for _, link := range links {
		if err := provider.DeleteEvent(c.Context(), calendarID, link.EventID); err != nil {
			log.Printf("⚠️ [INTEGRATION] Failed to delete event %s: %v", link.EventID, err)
			continue
		}
		deleted++
	}
	log.Printf("🔄 [INTEGRATION] Removed %d/%d provider events for %s", deleted, len(links), integration.ID)
}
