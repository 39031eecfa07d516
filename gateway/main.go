package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-tenant-rbac/shared/app"
	"github.com/pavitra93/go-tenant-rbac/shared/auth"
	"github.com/pavitra93/go-tenant-rbac/shared/config"
	"github.com/pavitra93/go-tenant-rbac/shared/metrics"
	"github.com/pavitra93/go-tenant-rbac/shared/middleware"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

// Gateway is the single public entry point in front of the services
type Gateway struct {
	Clients *ServiceClients
	Auth    *middleware.AuthMiddleware
	Metrics *metrics.Metrics
	Origin  string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	cfg.ConfigureLogging()

	rdb, err := utils.NewRedisClient(context.Background(), cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	// sessions are checked here; roles and tenant are resolved by the services
	tokens := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL)
	authMiddleware := middleware.NewAuthMiddleware(tokens, utils.NewSessionStore(rdb), nil)

	m := metrics.New("gateway")
	gw := &Gateway{
		Clients: &ServiceClients{
			AuthService:  NewServiceClient("auth", config.ServiceURL("auth", "http://localhost:8001"), m),
			AdminService: NewServiceClient("admin", config.ServiceURL("admin", "http://localhost:8002"), m),
			AuditService: NewServiceClient("audit", config.ServiceURL("audit", "http://localhost:8003"), m),
		},
		Auth:    authMiddleware,
		Metrics: m,
		Origin:  cfg.OAuth.FrontendURL,
	}

	if err := app.Serve("API Gateway", setupRouter(gw), config.Port("api_gateway", "8080")); err != nil {
		log.Fatal("Failed to start API Gateway:", err)
	}
}

func setupRouter(gw *Gateway) *gin.Engine {
	router := gin.Default()
	router.Use(middleware.RequestID("gateway"))
	router.Use(gw.Metrics.Middleware())
	router.Use(cors(gw.Origin))

	router.GET("/health", func(c *gin.Context) {
		status, healthy := gw.Clients.GetServiceStatus(c.Request.Context())
		if !healthy {
			logrus.WithField("services", status).Warn("API Gateway is degraded")
			utils.SuccessResponse(c, http.StatusServiceUnavailable, "API Gateway is degraded", status)
			return
		}
		utils.OKResponse(c, "API Gateway is healthy", status)
	})
	router.GET("/metrics", gin.WrapH(gw.Metrics.Handler()))

	authService := gw.Clients.AuthService.ProxyRequest
	authRoutes := router.Group("/auth")
	{
		authRoutes.POST("/register", authService)
		authRoutes.POST("/login", authService)
		authRoutes.GET("/social/:provider/redirect", authService)
		authRoutes.GET("/social/:provider/callback", authService)

		authRoutes.POST("/logout", gw.Auth.RequireAuth(), authService)
		authRoutes.POST("/logout-all", gw.Auth.RequireAuth(), authService)
		authRoutes.GET("/me", gw.Auth.RequireAuth(), authService)
		authRoutes.DELETE("/social/:provider", gw.Auth.RequireAuth(), authService)
	}

	protected := router.Group("")
	protected.Use(gw.Auth.RequireAuth())
	for _, prefix := range []string{"/tenants", "/users", "/roles", "/permissions", "/profile"} {
		protected.Any(prefix, gw.Clients.AdminService.ProxyRequest)
		protected.Any(prefix+"/*path", gw.Clients.AdminService.ProxyRequest)
	}
	protected.GET("/audit", gw.Clients.AuditService.ProxyRequest)

	return router
}

// cors allows the frontend origin to call the API with credentials
func cors(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID")
		c.Header("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
