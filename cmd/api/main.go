package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"promanage.org/internal/authn"
	"promanage.org/internal/authz"
	"promanage.org/internal/authz/pg"
	"promanage.org/internal/httpapi"
	"promanage.org/internal/obs"
	"promanage.org/internal/stream"
	"promanage.org/internal/token"
)

var version = "0.3.0"

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("PROMANAGE_BUILD_COMMIT"))

	dsn := os.Getenv("PROMANAGE_PG_DSN")
	if dsn == "" {
		log.Fatal("missing PROMANAGE_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	secret := os.Getenv("PROMANAGE_AUTH_SECRET")
	tokens, err := token.NewService(secret, token.WithIssuer("promanage"))
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	redisAddr := os.Getenv("PROMANAGE_REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})

	events := stream.New()
	cache := authz.NewRedisCache(rdb)
	resolver := authz.NewResolver(store, cache, authz.WithResolverEvents(events))
	perms := authz.NewPermissionService(store, cache, resolver, authz.WithPermissionEvents(events))
	roles := authz.NewRoleService(store, cache, resolver, authz.WithRoleEvents(events))
	revocations := token.NewRedisRevocationStore(rdb)
	auth := authn.NewService(store, resolver, tokens, revocations,
		authn.NewRedisLease(rdb), authn.NewRedisCodeStore(rdb))

	api := httpapi.New(httpapi.Config{
		ReadyProbe:  httpapi.ReadyProbe{DB: store.DB()},
		Version:     version,
		Authn:       auth,
		Tokens:      tokens,
		Revocations: revocations,
		Permissions: perms,
		Roles:       roles,
		Resolver:    resolver,
		Stream:      events,
	})

	addr := os.Getenv("PROMANAGE_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting promanage-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = store.Close()
	_ = rdb.Close()
	log.Println("Stopped")
}
