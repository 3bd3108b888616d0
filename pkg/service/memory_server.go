/*
Package service exposes the memory engine over HTTP. The surface is a thin
JSON mapping onto the Manager facade; every policy decision (scope checks,
action validation, partial degradation) lives in pkg/memory and surfaces here
only as status codes.
*/
package service

import (
	stderrors "errors"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"
	"github.com/theapemachine/mem-go/pkg/errors"
	"github.com/theapemachine/mem-go/pkg/memory"
	"github.com/theapemachine/mem-go/pkg/metrics"
)

type MemoryServer struct {
	app     *fiber.App
	manager *memory.Manager
	stats   *metrics.RetrievalMetrics
	addr    string
}

type MemoryServerOption func(*MemoryServer)

func NewMemoryServer(manager *memory.Manager, options ...MemoryServerOption) *MemoryServer {
	srv := &MemoryServer{
		app: fiber.New(fiber.Config{
			AppName:      "Memory Engine",
			ServerHeader: "Memory-Server",
		}),
		manager: manager,
		addr:    ":3210",
	}

	for _, option := range options {
		option(srv)
	}

	srv.routes()

	return srv
}

// WithAddr overrides the listen address.
func WithAddr(addr string) MemoryServerOption {
	return func(srv *MemoryServer) {
		srv.addr = addr
	}
}

// WithServerMetrics exposes the given collector on GET /metrics.
func WithServerMetrics(stats *metrics.RetrievalMetrics) MemoryServerOption {
	return func(srv *MemoryServer) {
		srv.stats = stats
	}
}

func (srv *MemoryServer) Run() error {
	log.Info("memory server listening", "addr", srv.addr)
	return srv.app.Listen(srv.addr)
}

// App exposes the fiber app, for tests.
func (srv *MemoryServer) App() *fiber.App {
	return srv.app
}

func (srv *MemoryServer) routes() {
	srv.app.Get("/health", func(ctx fiber.Ctx) error {
		return ctx.SendString("OK")
	})

	if srv.stats != nil {
		srv.app.Get("/metrics", func(ctx fiber.Ctx) error {
			return ctx.JSON(srv.stats.GetMetrics())
		})
	}

	srv.app.Post("/memories", srv.handleAdd)
	srv.app.Post("/search", srv.handleSearch)
	srv.app.Get("/memories/:id", srv.handleGet)
	srv.app.Delete("/memories/:id", srv.handleDelete)
}

type addRequest struct {
	Text  string       `json:"text"`
	Scope memory.Scope `json:"scope"`
}

func (srv *MemoryServer) handleAdd(ctx fiber.Ctx) error {
	var req addRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).SendString("Invalid request: " + err.Error())
	}

	result, err := srv.manager.Add(ctx, req.Text, req.Scope)
	if err != nil {
		return srv.fail(ctx, err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(result)
}

type searchRequest struct {
	Query  string         `json:"query"`
	Filter map[string]any `json:"filter"`
	Limit  int            `json:"limit"`
}

func (srv *MemoryServer) handleSearch(ctx fiber.Ctx) error {
	var req searchRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).SendString("Invalid request: " + err.Error())
	}

	result, err := srv.manager.Search(ctx, req.Query, req.Filter, req.Limit)
	if err != nil {
		return srv.fail(ctx, err)
	}

	return ctx.Status(fiber.StatusOK).JSON(result)
}

func (srv *MemoryServer) handleGet(ctx fiber.Ctx) error {
	item, err := srv.manager.Get(ctx, ctx.Params("id"))
	if err != nil {
		return srv.fail(ctx, err)
	}

	return ctx.Status(fiber.StatusOK).JSON(item)
}

func (srv *MemoryServer) handleDelete(ctx fiber.Ctx) error {
	if err := srv.manager.Delete(ctx, ctx.Params("id")); err != nil {
		return srv.fail(ctx, err)
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}

// fail maps the typed error taxonomy onto HTTP status codes.
func (srv *MemoryServer) fail(ctx fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	switch {
	case stderrors.Is(err, errors.ErrNotFound):
		status = fiber.StatusNotFound
	case stderrors.Is(err, errors.ErrInvalidFilter), stderrors.Is(err, errors.ErrInvalidAction):
		status = fiber.StatusBadRequest
	case stderrors.Is(err, errors.ErrRetrieval), stderrors.Is(err, errors.ErrExtraction):
		status = fiber.StatusBadGateway
	}

	var typed *errors.TypedError
	if stderrors.As(err, &typed) {
		return ctx.Status(status).JSON(typed)
	}

	return ctx.Status(status).JSON(errors.TypedError{
		Code:    "internal",
		Message: err.Error(),
	})
}
