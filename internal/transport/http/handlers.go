// internal/transport/http/handlers.go
package http

import (
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"sync-service/internal/adapter"
	"sync-service/internal/conflict"
	"sync-service/internal/scheduler"
	"sync-service/internal/store"
)

type Handler struct {
	scheduler    *scheduler.Scheduler
	integrations *store.IntegrationStore
	links        *store.LinkStore
	entities     *store.EntityStore
	detector     *conflict.Detector
	resolver     *conflict.Resolver
	cipher       *store.Cipher
	adapters     *adapter.Registry
}

func NewHandler(
	sched *scheduler.Scheduler,
	integrations *store.IntegrationStore,
	links *store.LinkStore,
	entities *store.EntityStore,
	detector *conflict.Detector,
	resolver *conflict.Resolver,
	cipher *store.Cipher,
	adapters *adapter.Registry,
) *Handler {
	return &Handler{
		scheduler:    sched,
		integrations: integrations,
		links:        links,
		entities:     entities,
		detector:     detector,
		resolver:     resolver,
		cipher:       cipher,
		adapters:     adapters,
	}
}

// tenantID reads the caller's tenant from the X-Tenant-ID header set by the
// Gateway. Every resource route is tenant-scoped.
func tenantID(c *fiber.Ctx) (uuid.UUID, error) {
	raw := c.Get("X-Tenant-ID")
	if raw == "" {
		return uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "X-Tenant-ID header required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid X-Tenant-ID")
	}
	return id, nil
}

func pathID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// fail maps domain errors onto HTTP statuses.
func fail(c *fiber.Ctx, op string, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	if scheduler.IsValidation(err) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}
	if errors.Is(err, scheduler.ErrAlreadyRunning) || errors.Is(err, scheduler.ErrExecutionFinished) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	log.Printf("❌ %s failed: %v", op, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

// Helper
func getQueryInt(c *fiber.Ctx, key string, def, min, max int) int {
	s := c.Query(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
