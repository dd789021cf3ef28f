package main

import (
	"context"
	"database/sql"
	"net/http"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"replybot/internal/adapters/gbp"
	httpserver "replybot/internal/adapters/http_server"
	"replybot/internal/adapters/mailer"
	"replybot/internal/adapters/observability"
	"replybot/internal/adapters/openai"
	redisad "replybot/internal/adapters/redis"
	"replybot/internal/app"
	"replybot/internal/shared"
	mysqlrepo "replybot/internal/storage/mysql"
)

func main() {
	cfg, err := shared.Load()
	if err != nil {
		// Config problems are the only fatal startup errors.
		log.Fatal().Err(err).Msg("configuration invalid")
	}

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve()

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	// deps
	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	var ts gbp.TokenSource
	if cfg.GBPAccessToken != "" {
		ts = gbp.StaticTokenSource(cfg.GBPAccessToken)
	} else {
		ts = gbp.NewRefreshTokenSource(cfg.GBPTokenURL, cfg.GBPClientID, cfg.GBPClientSecret, cfg.GBPRefreshToken)
	}
	client, err := gbp.New(cfg.GBPBase, cfg.GBPAccount, cfg.GBPLocation, ts, 5, cfg.CallTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize business-profile client")
	}

	gen, err := openai.New(cfg.OpenAIBase, cfg.OpenAIKey, cfg.OpenAIModel, openai.Style{
		BusinessName: cfg.BusinessName,
		Tone:         cfg.ReplyTone,
		MaxLen:       cfg.ReplyMaxLen,
		Temperature:  cfg.Temperature,
	}, cfg.CallTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize reply generator")
	}

	notifier := mailer.New(cfg.SMTPAddr, cfg.SMTPFrom, cfg.SMTPTo, cfg.SMTPUser, cfg.SMTPPass)
	svc := app.NewReconcileService(client, gen, client, repo, cache, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go app.NewScheduler(svc, cfg.PollInterval).Run(ctx)

	// http
	srv := httpserver.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&httpserver.Handlers{Runner: svc, Store: repo})

	log.Info().Str("addr", cfg.HTTPAddr).Str("location", cfg.GBPLocation).Msg("replybot listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	go func() {
		<-ctx.Done()
		_ = httpSrv.Shutdown(context.Background())
	}()

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}
