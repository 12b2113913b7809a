package server

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"doodlecall-backend/internal/auth"
	"doodlecall-backend/internal/config"
	"doodlecall-backend/internal/doodle"
	"doodlecall-backend/internal/handler"
	"doodlecall-backend/internal/hub"
	"doodlecall-backend/internal/store"
)

// Server wires the fiber app, the websocket hub and the doodle engine.
type Server struct {
	app           *fiber.App
	cfg           *config.Config
	db            *gorm.DB
	hub           *hub.Hub
	engine        *doodle.Engine
	strokeStore   *store.StrokeStore
	doodleHandler *handler.DoodleHandler
	jwtManager    *auth.JWTManager

	stopBackground context.CancelFunc
}

// New creates a new server instance
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Doodle Call Gateway",
		ServerHeader:    "Fiber",
		StrictRouting:   true,
		CaseSensitive:   true,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		Prefork:         false, // incompatible with WebSocket
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
		BodyLimit:       2 * 1024 * 1024,
	})

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	strokeStore := store.NewStrokeStore(db)
	roomStore := store.NewRoomStore(db)

	registry := hub.NewRegistry()
	directory := hub.NewDirectory(rdb)

	limiterD := doodle.NewRateLimiter(cfg.Doodle.RateWindow, cfg.Doodle.RateCapacity)
	engine := doodle.NewEngine(
		strokeStore,
		doodle.NewBuffer(),
		limiterD,
		func(roomID, event string, payload any, exceptConnID string) {
			for _, m := range registry.Members(roomID) {
				if m.ID == exceptConnID {
					continue
				}
				if err := m.Emit(event, payload); err != nil {
					log.Printf("[Doodle] Failed to send %s to %s: %v", event, m.ID, err)
				}
			}
		},
		cfg.Doodle.SyncLimit,
	)

	return &Server{
		app:           app,
		cfg:           cfg,
		db:            db,
		hub:           hub.New(registry, directory, roomStore, engine),
		engine:        engine,
		strokeStore:   strokeStore,
		doodleHandler: handler.NewDoodleHandler(strokeStore),
		jwtManager:    jwtManager,
	}
}

// SetupMiddleware installs the middleware stack
func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes installs routes
func (s *Server) SetupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	// REST rate limit, separate from the per-connection doodle throttle
	restLimiter := limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	doodleGroup := s.app.Group("/api/doodle", restLimiter, auth.AuthMiddleware(s.jwtManager))
	doodleGroup.Get("/:roomId/strokes", s.doodleHandler.GetStrokes)
	doodleGroup.Post("/:roomId/strokes", s.doodleHandler.SaveStroke)
	doodleGroup.Post("/:roomId/strokes/batch", s.doodleHandler.BatchSaveStrokes)
	doodleGroup.Delete("/:roomId/strokes", s.doodleHandler.DeleteStrokes)
	doodleGroup.Delete("/:roomId/strokes/:strokeId", s.doodleHandler.DeleteStroke)
	doodleGroup.Get("/:roomId/strokes/count", s.doodleHandler.CountStrokes)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/ws/rooms", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		// Browsers cannot set headers on a ws handshake; accept the
		// cookie or a token query parameter.
		accessToken := c.Cookies("access_token")
		if accessToken == "" {
			accessToken = c.Query("token")
		}
		if accessToken == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		claims, err := s.jwtManager.ValidateAccessToken(accessToken)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		c.Locals("userId", claims.UserID)
		c.Locals("username", claims.Username)

		return c.Next()
	}, websocket.New(s.handleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

func (s *Server) handleWebSocket(conn *websocket.Conn) {
	userID, ok1 := conn.Locals("userId").(string)
	username, ok2 := conn.Locals("username").(string)
	if !ok1 || !ok2 || userID == "" {
		conn.Close()
		return
	}

	client := hub.NewClient(conn, userID, username)
	s.hub.ServeConn(context.Background(), client)
}

// StartBackground launches the buffer idle sweep and the retention purge
func (s *Server) StartBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopBackground = cancel

	go func() {
		sweep := time.NewTicker(1 * time.Minute)
		purge := time.NewTicker(1 * time.Hour)
		defer sweep.Stop()
		defer purge.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-sweep.C:
				if n := s.engine.Buffer().SweepIdle(s.cfg.Doodle.BufferIdleTTL); n > 0 {
					log.Printf("[Doodle] Swept %d abandoned buffered strokes", n)
				}
			case <-purge.C:
				purgeCtx, cancelPurge := context.WithTimeout(ctx, 30*time.Second)
				if n, err := s.strokeStore.PurgeOlderThan(purgeCtx, s.cfg.Doodle.Retention); err != nil {
					log.Printf("[Doodle] Retention purge failed: %v", err)
				} else if n > 0 {
					log.Printf("[Doodle] Purged %d strokes past retention", n)
				}
				cancelPurge()
			}
		}
	}()
}

// Start runs the server with graceful shutdown
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if s.stopBackground != nil {
			s.stopBackground()
		}
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Doodle Call Gateway starting on %s", s.cfg.Server.Port)
	log.Printf("WebSocket endpoint: ws://localhost%s/ws/rooms", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown stops the server
func (s *Server) Shutdown() error {
	if s.stopBackground != nil {
		s.stopBackground()
	}
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
