package main

import (
	"context"
	"log"

	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-tenant-rbac/shared/app"
	"github.com/pavitra93/go-tenant-rbac/shared/auth"
	"github.com/pavitra93/go-tenant-rbac/shared/config"
)

// demoPassword is shared by every seeded demo account
const demoPassword = "password"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	cfg.ConfigureLogging()

	ctx := context.Background()
	core, err := app.NewCore(ctx, "admin", cfg)
	if err != nil {
		log.Fatal("Failed to initialize admin service:", err)
	}
	defer core.Close()

	hasher := auth.NewPasswordHasher(0)
	if cfg.Seed {
		hash, err := hasher.Hash(demoPassword)
		if err != nil {
			log.Fatal("Failed to hash demo password:", err)
		}
		if err := core.Store.SeedDemo(ctx, hash); err != nil {
			log.Fatal("Failed to seed demo data:", err)
		}
		logrus.Info("Demo tenants and users seeded")
	}

	core.Events = core.Publisher()
	server := &Server{
		Core:    core,
		Hasher:  hasher,
		Objects: core.ObjectStore(ctx),
	}

	router := setupRouter(server)
	if err := app.Serve("Admin service", router, config.Port("admin", "8002")); err != nil {
		log.Fatal("Failed to start admin service:", err)
	}
}
