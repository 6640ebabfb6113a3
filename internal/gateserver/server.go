// Package gateserver assembles the gate's HTTP surface: a fiber app with the
// ambient middleware stack (request id, recover, logger, CORS, rate limit)
// in front of a demo paid tool catalog served by internal/gate.
package gateserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"stronghold/internal/config"
	"stronghold/internal/gate"
	"stronghold/internal/keyset"
	"stronghold/internal/manifest"
	"stronghold/internal/middleware"
	"stronghold/internal/replay"
)

// Server wraps a fiber.App exposing the manifest's tools behind the paid
// request gate, plus a bare health check and the signed keyset well-known
// document for callers who resolve this provider as their counterparty.
type Server struct {
	app         *fiber.App
	cfg         *config.Config
	replayStore *replay.Store
}

// New builds a Server from cfg and a loaded tool manifest. execute is called
// for every tool invocation that clears the gate; it receives the matched
// ToolEntry's toolId via the request path.
func New(cfg *config.Config, m manifest.Manifest, execute gate.ExecuteFunc) (*Server, error) {
	replayStore := replay.NewStore(cfg.Replay.MaxKeys)

	resolver := keyset.NewResolver(keyset.ResolverConfig{
		KeysetURL:          cfg.NooterraPay.KeysetURL,
		PinnedPublicKeyPem: cfg.NooterraPay.PinnedPublicKeyPem,
		PinnedKeyID:        cfg.NooterraPay.PinnedKeyID,
		PinnedOnly:         cfg.NooterraPay.PinnedOnly,
		DefaultMaxAge:      cfg.NooterraPay.DefaultMaxAge,
		PinnedMaxAge:       cfg.NooterraPay.PinnedMaxAge,
		FetchTimeout:       cfg.NooterraPay.FetchTimeout,
	})

	handler := gate.NewHandler(gate.Config{
		ProviderID:            cfg.Provider.ProviderID,
		ProviderPrivateKeyPem: cfg.Provider.PrivateKeyPem,
		ProviderPublicKeyPem:  cfg.Provider.PublicKeyPem,
		PaymentAddress:        cfg.Provider.PaymentAddress,
		PaymentNetwork:        cfg.Provider.PaymentNetwork,
		KeysetResolver:        resolver,
		ReplayStore:           replayStore,
		ReplayTTLBuffer:       cfg.Replay.TTLBuffer,
		QuoteTTL:              cfg.NooterraPay.QuoteTTL,
		MaxRequestBodyBytes:   cfg.NooterraPay.MaxRequestBodyBytes,
		DevModeSkipVerify:     cfg.IsDevelopment() && cfg.Provider.DevModeSkipVerify,
		PriceFor:              priceForFunc(m),
		Execute:               execute,
	})

	app := fiber.New(fiber.Config{
		AppName:      "Nooterra Pay Gate",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorHandler: errorHandler,
	})

	s := &Server{app: app, cfg: cfg, replayStore: replayStore}
	s.setupMiddleware()
	s.setupRoutes(m, handler)

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(middleware.RequestID())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{gate.HeaderPaymentRequired, gate.HeaderProviderQuote, gate.HeaderProviderSignature},
		MaxAge:        300,
	}))

	rlm := middleware.NewRateLimitMiddleware(&s.cfg.RateLimit)
	s.app.Use(rlm.Middleware())
}

func (s *Server) setupRoutes(m manifest.Manifest, handler *gate.Handler) {
	s.app.Get("/healthz", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	s.app.Get("/.well-known/nooterra-pay-keyset.json", func(c fiber.Ctx) error {
		ks, err := keyset.Single(s.cfg.Provider.ProviderID, s.cfg.Provider.PublicKeyPem, time.Now())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		c.Set("Cache-Control", fmt.Sprintf("max-age=%d", int(s.cfg.NooterraPay.DefaultMaxAge.Seconds())))
		return c.JSON(ks)
	})

	s.app.Get("/v1/pricing", func(c fiber.Ctx) error {
		offers := make([]gate.Offer, 0, len(m.Tools))
		for _, tool := range m.Tools {
			offers = append(offers, manifestToolOffer(tool))
		}
		return c.JSON(fiber.Map{"providerId": m.ProviderID, "tools": gate.PricingListing(offers)})
	})

	for _, tool := range m.Tools {
		s.app.All("/tools/"+tool.ToolID, handler.Handle)
	}

	s.app.Use(func(c fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "not found",
			"path":  c.Path(),
		})
	})
}

func (s *Server) pruneReplayLoop(ctx context.Context) {
	interval := s.cfg.Replay.PruneInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.replayStore.Prune(time.Now().UnixMilli())
		}
	}
}

// priceForFunc builds a gate.PriceFunc that looks the requested tool up in
// the manifest by its last path segment.
func priceForFunc(m manifest.Manifest) gate.PriceFunc {
	return func(c fiber.Ctx) (gate.Offer, error) {
		toolID := toolIDFromPath(c.Path())
		entry, ok := manifest.Find(m, toolID)
		if !ok {
			return gate.Offer{}, fmt.Errorf("gateserver: unknown tool %q", toolID)
		}
		return manifestToolOffer(entry), nil
	}
}

// manifestToolOffer converts one manifest tool entry into the gate.Offer
// shape shared by per-request pricing and the /v1/pricing listing.
func manifestToolOffer(entry manifest.ToolEntry) gate.Offer {
	return gate.Offer{
		AmountCents:            entry.AmountCents,
		Currency:               entry.Currency,
		ToolID:                 entry.ToolID,
		Address:                entry.Address,
		Network:                entry.Network,
		Idempotency:            gate.Idempotency(entry.Idempotency),
		RequestBindingMode:     gate.RequestBindingMode(entry.RequestBindingMode),
		QuoteRequired:          entry.QuoteRequired,
		QuoteID:                entry.QuoteID,
		SpendAuthorizationMode: gate.SpendAuthorizationMode(entry.SpendAuthorizationMode),
	}
}

func toolIDFromPath(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// Start runs the replay-store pruning loop and blocks serving HTTP until the
// listener exits. ctx cancellation stops the pruning loop; the HTTP listener
// itself is stopped via Shutdown.
func (s *Server) Start(ctx context.Context) error {
	go s.pruneReplayLoop(ctx)

	addr := ":" + s.cfg.Server.Port
	slog.Info("gate listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}
	slog.Error("unhandled request error", "error", err, "path", c.Path())
	return c.Status(code).JSON(fiber.Map{
		"error":      message,
		"status":     code,
		"request_id": middleware.GetRequestID(c),
	})
}
