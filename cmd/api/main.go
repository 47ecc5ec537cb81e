package main

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	apppkg "github.com/credsettle/portal-go/cmd/api/app"
	authpkg "github.com/credsettle/portal-go/cmd/api/auth"
	callbackspkg "github.com/credsettle/portal-go/cmd/api/callbacks"
	emergencypkg "github.com/credsettle/portal-go/cmd/api/emergency"
	metricspkg "github.com/credsettle/portal-go/cmd/api/metrics"
	newspkg "github.com/credsettle/portal-go/cmd/api/news"
	reviewspkg "github.com/credsettle/portal-go/cmd/api/reviews"
	ticketspkg "github.com/credsettle/portal-go/cmd/api/tickets"
	userspkg "github.com/credsettle/portal-go/cmd/api/users"
	newsclient "github.com/credsettle/portal-go/internal/news"
	"github.com/credsettle/portal-go/internal/payments"
	"github.com/credsettle/portal-go/internal/ratelimit"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	_ = godotenv.Load()
	cfg := apppkg.GetConfig()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// DB connect
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()

	// Migrate (embedded goose) using pgx stdlib driver
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal().Err(err).Msg("goose dialect")
	}
	sqldb, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("sql open for goose")
	}
	defer sqldb.Close()
	if err := goose.UpContext(ctx, sqldb, "migrations"); err != nil {
		log.Fatal().Err(err).Msg("migrate up")
	}

	// JWKS-backed keyfunc (OIDC mode)
	var keyf jwt.Keyfunc
	if cfg.AuthMode == "oidc" && cfg.JWKSURL != "" {
		keyf, err = jwksKeyfunc(ctx, cfg.JWKSURL)
		if err != nil {
			log.Fatal().Err(err).Str("jwks_url", cfg.JWKSURL).Msg("fetch jwks")
		}
	}

	// Object store: MinIO, or filesystem fallback for dev
	var store apppkg.ObjectStore
	if cfg.MinIOEndpoint != "" {
		mc, err := minio.New(cfg.MinIOEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIOAccess, cfg.MinIOSecret, ""),
			Secure: cfg.MinIOUseSSL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("minio init")
		}
		store = mc
	} else if cfg.FileStorePath != "" {
		if err := os.MkdirAll(cfg.FileStorePath, 0o755); err != nil {
			log.Fatal().Err(err).Str("path", cfg.FileStorePath).Msg("create filestore path")
		}
		store = &apppkg.FsObjectStore{Base: cfg.FileStorePath}
	}

	// Redis (rate limiting + notification jobs)
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("redis ping")
		}
		defer rdb.Close()
	}

	// Seed a dev admin for local auth
	if cfg.AuthMode == "local" && cfg.Env == "dev" {
		if err := seedLocalAdmin(ctx, pool, cfg.AdminPassword); err != nil {
			log.Error().Err(err).Msg("seed local admin")
		}
	}

	metricspkg.Register()

	a := apppkg.NewApp(cfg, pool, keyf, store, rdb)
	routes(a, rdb)

	srv := &http.Server{
		Addr:           cfg.Addr,
		Handler:        a.R,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	log.Info().Str("addr", cfg.Addr).Msg("api listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("listen")
	}
}

// jwksKeyfunc fetches the JWKS once and refreshes it periodically.
func jwksKeyfunc(ctx context.Context, url string) (jwt.Keyfunc, error) {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	set, err := jwk.Fetch(ctx, url, jwk.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}
	setPtr := &set
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if newSet, err := jwk.Fetch(context.Background(), url, jwk.WithHTTPClient(httpClient)); err == nil {
				*setPtr = newSet
			}
		}
	}()
	return func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid != "" {
			if key, ok := (*setPtr).LookupKeyID(kid); ok {
				var pub any
				if err := key.Raw(&pub); err != nil {
					return nil, err
				}
				return pub, nil
			}
		}
		it := (*setPtr).Iterate(context.Background())
		if it.Next(context.Background()) {
			pair := it.Pair()
			if key, ok := pair.Value.(jwk.Key); ok {
				var pub any
				if err := key.Raw(&pub); err != nil {
					return nil, err
				}
				return pub, nil
			}
		}
		return nil, fmt.Errorf("no jwk for kid: %s", kid)
	}, nil
}

func routes(a *apppkg.App, rdb *redis.Client) {
	a.R.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	a.R.GET("/metrics", metricspkg.Handler())

	gw := payments.New(a.Cfg.PaymentKeyID, a.Cfg.PaymentKeySecret, a.Cfg.PaymentBaseURL)
	nc := newsclient.New(a.Cfg.NewsAPIKey, a.Cfg.NewsBaseURL)
	emergencyAmount := int64(99900) // paise
	if v, err := strconv.ParseInt(apppkg.GetEnv("EMERGENCY_AMOUNT", ""), 10, 64); err == nil && v > 0 {
		emergencyAmount = v
	}

	// Public intake, throttled per client IP
	intake := ratelimit.New(rdb, a.Cfg.IntakeLimit, time.Minute, "intake:")
	byIP := func(c *gin.Context) string { return c.ClientIP() }
	throttle := func(route string) gin.HandlerFunc {
		return intake.Middleware(byIP, func() {
			metricspkg.RateLimitRejectionsTotal.WithLabelValues(route).Inc()
		})
	}
	a.R.POST("/callbacks", throttle("callbacks"), callbackspkg.Create(a))
	a.R.POST("/reviews", throttle("reviews"), reviewspkg.Create(a))
	a.R.GET("/reviews", reviewspkg.ListPublic(a))
	a.R.POST("/emergency-contacts", throttle("emergency"), emergencypkg.Create(a, gw, emergencyAmount))
	a.R.POST("/payments/verify", emergencypkg.Verify(a))
	a.R.GET("/news", newspkg.Proxy(nc))

	// Local auth endpoints
	if a.Cfg.AuthMode == "local" {
		a.R.POST("/login", authpkg.Login(a))
		a.R.POST("/logout", authpkg.Logout())
	}

	auth := a.R.Group("/")
	auth.Use(authpkg.Middleware(a))
	auth.GET("/me", authpkg.Me)

	// Tickets
	auth.GET("/tickets", ticketspkg.List(a))
	auth.POST("/tickets", ticketspkg.Create(a))
	auth.GET("/tickets/:id", ticketspkg.Get(a))
	auth.PATCH("/tickets/:id", authpkg.RequireAdmin(), ticketspkg.Update(a))
	auth.GET("/tickets/:id/events", ticketspkg.ListEvents(a))
	auth.POST("/tickets/:id/events", authpkg.RequireAdmin(), ticketspkg.CreateEvent(a))
	auth.GET("/tickets/:id/messages", ticketspkg.ListMessages(a))
	auth.POST("/tickets/:id/messages", ticketspkg.AddMessage(a))
	auth.GET("/tickets/:id/documents", ticketspkg.ListDocuments(a))
	auth.POST("/tickets/:id/documents", ticketspkg.UploadDocument(a))
	auth.DELETE("/tickets/:id/documents/:docID", authpkg.RequireAdmin(), ticketspkg.DeleteDocument(a))

	// Admin
	admin := auth.Group("/", authpkg.RequireAdmin())
	admin.GET("/callbacks", callbackspkg.List(a))
	admin.PATCH("/callbacks/:id", callbackspkg.Update(a))
	admin.GET("/reviews/all", reviewspkg.ListAll(a))
	admin.PATCH("/reviews/:id", reviewspkg.Update(a))
	admin.DELETE("/reviews/:id", reviewspkg.Delete(a))
	admin.GET("/emergency-contacts", emergencypkg.List(a))
	admin.PATCH("/emergency-contacts/:id", emergencypkg.UpdateStatus(a))
	admin.GET("/users", userspkg.List(a))
	admin.POST("/users", userspkg.Create(a))
	admin.GET("/users/:id", userspkg.Get(a))
	admin.PATCH("/users/:id", userspkg.Update(a))
	admin.DELETE("/users/:id", userspkg.Delete(a))
}

func seedLocalAdmin(ctx context.Context, db *pgxpool.Pool, password string) error {
	var exists bool
	if err := db.QueryRow(ctx, "select exists(select 1 from users where lower(username)='admin')").Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	var uid string
	if err := db.QueryRow(ctx,
		`insert into users (username, email, display_name, password_hash, role) values ('admin', 'admin@example.com', 'Admin', $1, 'ADMIN') returning id::text`,
		string(hash)).Scan(&uid); err != nil {
		return err
	}
	log.Info().Str("username", "admin").Msg("seeded local admin user (dev)")
	return nil
}
