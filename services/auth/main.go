package main

import (
	"context"
	"log"

	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-tenant-rbac/shared/app"
	"github.com/pavitra93/go-tenant-rbac/shared/auth"
	"github.com/pavitra93/go-tenant-rbac/shared/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	cfg.ConfigureLogging()

	ctx := context.Background()
	core, err := app.NewCore(ctx, "auth", cfg)
	if err != nil {
		log.Fatal("Failed to initialize auth service:", err)
	}
	defer core.Close()

	core.Events = core.Publisher()
	server := &Server{
		Core:      core,
		Hasher:    auth.NewPasswordHasher(0),
		Objects:   core.ObjectStore(ctx),
		Providers: socialProviders(cfg.OAuth),
	}
	logrus.Infof("Social login providers enabled: %d", len(server.Providers))

	router := setupRouter(server)
	if err := app.Serve("Auth service", router, config.Port("auth", "8001")); err != nil {
		log.Fatal("Failed to start auth service:", err)
	}
}
