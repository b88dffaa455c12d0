// Package webserver is the demo HTTP front door described in SPEC_FULL.md
// §6: a small Fiber v3 application that exercises a webcache.Cache the way
// an interceptor collaborator would, without attempting the full
// URL-protocol interceptor contract spec.md §6 leaves out of scope.
package webserver

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rosalind/webcache/policy"
	"github.com/rosalind/webcache/receiver"
	"github.com/rosalind/webcache/resource"
)

// Cache is the subset of webcache.Cache the front door needs. Expressed as
// an interface so tests can swap in a stub without pulling in a real
// three-tier chain.
type Cache interface {
	FetchBytes(ctx context.Context, url string, offset int64, hasLength bool, length int64, pol policy.Policy, prog *receiver.Progress) (resource.Info, []byte, bool)
	Peek(url string) (resource.StorageInfo, int64, bool)
	RemoveExpired()
}

const contextKeyRequestID = "_webcache_request_id"

// Options controls how New builds the application.
type Options struct {
	Cache  Cache
	Logger *logrus.Logger
	Stats  *Stats
}

// New builds a Fiber application exposing GET /fetch and GET /healthz.
func New(opts Options) (*fiber.App, error) {
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Stats == nil {
		opts.Stats = &Stats{}
	}

	app := fiber.New(fiber.Config{CaseSensitive: true})
	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Get("/fetch", newFetchHandler(opts.Cache, opts.Logger, opts.Stats))
	app.Get("/healthz", newHealthzHandler(opts.Stats))

	return app, nil
}

func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stamped by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
