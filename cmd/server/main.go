package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"lexremind/internal/api"
	"lexremind/internal/auth"
	"lexremind/internal/config"
	"lexremind/internal/db"
	"lexremind/internal/directory"
	"lexremind/internal/dispatch"
	"lexremind/internal/notify"
	"lexremind/internal/service"
	"lexremind/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	sqdb, err := db.OpenSQLite(cfg.DBPath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer sqdb.Close()
	if err := db.ApplyMigrationFile(sqdb, "migrations/001_init.sql"); err != nil {
		log.Fatalf("migration: %v", err)
	}

	st := store.New(sqdb)
	if cfg.BootstrapAdminEmail != "" && cfg.BootstrapAdminPassword != "" {
		hash, err := auth.HashPassword(cfg.BootstrapAdminPassword)
		if err != nil {
			log.Fatalf("bootstrap admin hash: %v", err)
		}
		if err := st.EnsureAdmin(context.Background(), cfg.BootstrapAdminEmail, cfg.BootstrapAdminName, hash); err != nil {
			log.Fatalf("bootstrap admin create: %v", err)
		}
	}

	dir, err := directory.New(cfg)
	if err != nil {
		log.Fatalf("directory: %v", err)
	}
	sender := notify.NewSender(cfg)

	svc := service.New(cfg, st, dir)
	dispatcher := dispatch.New(cfg, st, sender)
	r := api.NewRouter(cfg, svc, dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.DispatchEnabled {
		go dispatcher.Run(ctx)
	}
	if cfg.BounceEnabled {
		go dispatch.NewBounceChecker(cfg, st).Run(ctx)
	}

	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	log.Printf("listening on %s", cfg.ListenAddr)
	if err := hsrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server: %v", err)
	}
}
