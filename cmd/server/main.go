package main

import (
	"log"

	"doodlecall-backend/internal/config"
	"doodlecall-backend/internal/database"
	"doodlecall-backend/internal/hub"
	"doodlecall-backend/internal/server"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()

	db, err := database.ConnectDB()
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer database.Close(db)

	if err := database.Ping(db); err != nil {
		log.Fatalf("Database ping failed: %v", err)
	}
	log.Printf("Database connected successfully")

	// Redis mirror for the room directory is optional; without it snapshots
	// only fan out to connections on this process.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = hub.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("Redis connection failed, directory mirror disabled: %v", err)
			rdb = nil
		}
	}

	srv := server.New(cfg, db, rdb)
	srv.SetupMiddleware()
	srv.SetupRoutes()
	srv.StartBackground()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
