package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/kursadbilgin/sms-dispatch/internal/service"
)

type ProviderAdminService interface {
	List(ctx context.Context) ([]domain.ProviderConfig, error)
	Get(ctx context.Context, slug string) (*domain.ProviderConfig, error)
	Create(ctx context.Context, in service.ProviderInput) (*domain.ProviderConfig, error)
	Update(ctx context.Context, in service.ProviderInput) (*domain.ProviderConfig, error)
	Activate(ctx context.Context, slug string) error
	Deactivate(ctx context.Context, slug string) error
	SetDefault(ctx context.Context, slug string) error
}

// ProviderChecker runs live checks against a configured provider.
type ProviderChecker interface {
	TestProvider(ctx context.Context, slug string) (bool, string, error)
	GetBalance(ctx context.Context, slug string) (domain.ProviderBalance, error)
}

type ProviderHandler struct {
	admin   ProviderAdminService
	checker ProviderChecker
}

func NewProviderHandler(admin ProviderAdminService, checker ProviderChecker) (*ProviderHandler, error) {
	if admin == nil {
		return nil, fmt.Errorf("provider admin service is required")
	}
	if checker == nil {
		return nil, fmt.Errorf("provider checker is required")
	}
	return &ProviderHandler{admin: admin, checker: checker}, nil
}

func RegisterProviderRoutes(router fiber.Router, admin ProviderAdminService, checker ProviderChecker) error {
	h, err := NewProviderHandler(admin, checker)
	if err != nil {
		return err
	}

	providers := router.Group("/v1/admin/providers")
	providers.Get("/", h.ListProviders)
	providers.Post("/", h.CreateProvider)
	providers.Get("/:slug", h.GetProvider)
	providers.Put("/:slug", h.UpdateProvider)
	providers.Post("/:slug/activate", h.ActivateProvider)
	providers.Post("/:slug/deactivate", h.DeactivateProvider)
	providers.Post("/:slug/default", h.SetDefaultProvider)
	providers.Post("/:slug/test", h.TestProvider)
	providers.Get("/:slug/balance", h.GetBalance)

	return nil
}

type providerRequest struct {
	Slug        string                  `json:"slug"`
	Name        string                  `json:"name"`
	AdapterType string                  `json:"adapterType"`
	IsActive    bool                    `json:"isActive"`
	IsDefault   bool                    `json:"isDefault"`
	Priority    int                     `json:"priority"`
	Settings    domain.ProviderSettings `json:"settings"`
	Credentials map[string]string       `json:"credentials,omitempty"`
}

// providerResponse never carries credentials, only whether they are set.
type providerResponse struct {
	ID             string                  `json:"id"`
	Slug           string                  `json:"slug"`
	Name           string                  `json:"name"`
	AdapterType    string                  `json:"adapterType"`
	IsActive       bool                    `json:"isActive"`
	IsDefault      bool                    `json:"isDefault"`
	Priority       int                     `json:"priority"`
	Settings       domain.ProviderSettings `json:"settings"`
	HasCredentials bool                    `json:"hasCredentials"`
	CreatedAt      time.Time               `json:"createdAt,omitempty"`
	UpdatedAt      time.Time               `json:"updatedAt,omitempty"`
}

type listProvidersResponse struct {
	Data []providerResponse `json:"data"`
}

type testProviderResponse struct {
	Provider string `json:"provider"`
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message"`
}

type balanceResponse struct {
	Provider     string  `json:"provider"`
	Balance      float64 `json:"balance"`
	Currency     string  `json:"currency"`
	Unit         string  `json:"unit"`
	LowThreshold float64 `json:"lowThreshold"`
	IsLow        bool    `json:"isLow"`
	Degraded     bool    `json:"degraded"`
}

func (h *ProviderHandler) ListProviders(c *fiber.Ctx) error {
	configs, err := h.admin.List(c.UserContext())
	if err != nil {
		return err
	}

	data := make([]providerResponse, 0, len(configs))
	for i := range configs {
		data = append(data, toProviderResponse(&configs[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listProvidersResponse{Data: data})
}

func (h *ProviderHandler) GetProvider(c *fiber.Ctx) error {
	cfg, err := h.admin.Get(c.UserContext(), slugParam(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toProviderResponse(cfg))
}

func (h *ProviderHandler) CreateProvider(c *fiber.Ctx) error {
	var req providerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	in, err := requestToProviderInput(req)
	if err != nil {
		return err
	}

	created, err := h.admin.Create(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(toProviderResponse(created))
}

func (h *ProviderHandler) UpdateProvider(c *fiber.Ctx) error {
	var req providerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	req.Slug = slugParam(c)

	in, err := requestToProviderInput(req)
	if err != nil {
		return err
	}

	updated, err := h.admin.Update(c.UserContext(), in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toProviderResponse(updated))
}

func (h *ProviderHandler) ActivateProvider(c *fiber.Ctx) error {
	return h.changeState(c, h.admin.Activate)
}

func (h *ProviderHandler) DeactivateProvider(c *fiber.Ctx) error {
	return h.changeState(c, h.admin.Deactivate)
}

func (h *ProviderHandler) SetDefaultProvider(c *fiber.Ctx) error {
	return h.changeState(c, h.admin.SetDefault)
}

func (h *ProviderHandler) changeState(c *fiber.Ctx, apply func(ctx context.Context, slug string) error) error {
	slug := slugParam(c)
	if err := apply(c.UserContext(), slug); err != nil {
		return err
	}

	cfg, err := h.admin.Get(c.UserContext(), slug)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toProviderResponse(cfg))
}

func (h *ProviderHandler) TestProvider(c *fiber.Ctx) error {
	slug := slugParam(c)
	healthy, message, err := h.checker.TestProvider(c.UserContext(), slug)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(testProviderResponse{
		Provider: slug,
		Healthy:  healthy,
		Message:  message,
	})
}

func (h *ProviderHandler) GetBalance(c *fiber.Ctx) error {
	slug := slugParam(c)
	balance, err := h.checker.GetBalance(c.UserContext(), slug)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(balanceResponse{
		Provider:     slug,
		Balance:      balance.Balance,
		Currency:     balance.Currency,
		Unit:         string(balance.Unit),
		LowThreshold: balance.LowThreshold,
		IsLow:        balance.IsLow,
		Degraded:     balance.Degraded,
	})
}

func slugParam(c *fiber.Ctx) string {
	return strings.ToLower(strings.TrimSpace(c.Params("slug")))
}

func requestToProviderInput(req providerRequest) (service.ProviderInput, error) {
	adapterType, err := domain.ParseAdapterTypeFromString(req.AdapterType)
	if err != nil {
		return service.ProviderInput{}, err
	}

	in := service.ProviderInput{
		Slug:        strings.ToLower(strings.TrimSpace(req.Slug)),
		Name:        strings.TrimSpace(req.Name),
		AdapterType: adapterType,
		IsActive:    req.IsActive,
		IsDefault:   req.IsDefault,
		Priority:    req.Priority,
		Settings:    req.Settings,
	}
	if req.Credentials != nil {
		in.Credentials = domain.Credentials(req.Credentials)
	}
	return in, nil
}

func toProviderResponse(cfg *domain.ProviderConfig) providerResponse {
	if cfg == nil {
		return providerResponse{}
	}

	return providerResponse{
		ID:             cfg.ID,
		Slug:           cfg.Slug,
		Name:           cfg.Name,
		AdapterType:    cfg.AdapterType.String(),
		IsActive:       cfg.IsActive,
		IsDefault:      cfg.IsDefault,
		Priority:       cfg.Priority,
		Settings:       cfg.Settings,
		HasCredentials: cfg.Credentials != "",
		CreatedAt:      cfg.CreatedAt,
		UpdatedAt:      cfg.UpdatedAt,
	}
}
