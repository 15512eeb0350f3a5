package main

import (
	"log"
	"net/http"
	"os"

	"github.com/agentlease/leaseguard/internal/config"
	"github.com/agentlease/leaseguard/internal/events"
	"github.com/agentlease/leaseguard/internal/server"
	"github.com/agentlease/leaseguard/pkg/statestore"
)

func main() {
	cfgPath := os.Getenv("LEASEGUARD_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/server.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// The handler resolves stores from these; keep one source of truth.
	os.Setenv("ALLOWLIST_PATH", cfg.Allowlist)
	os.Setenv("AUTHZ_MODEL_PATH", cfg.Authz.ModelPath)
	os.Setenv("AUTHZ_POLICY_PATH", cfg.Authz.PolicyPath)
	if cfg.Authz.Mode != "" {
		os.Setenv("AUTHZ_ENFORCEMENT_MODE", cfg.Authz.Mode)
	}
	if cfg.PostgresDSN != "" {
		os.Setenv("LEASEGUARD_PG_DSN", cfg.PostgresDSN)
	}

	opts := server.HandlerOptions{Domain: cfg.Signing.Domain()}

	if cfg.RedisAddr != "" {
		st, err := statestore.NewRedis(statestore.RedisConfig{Addr: cfg.RedisAddr})
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		opts.StateStore = st
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sink := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer sink.Close()
		opts.Sink = sink
	}

	h, err := server.NewHandlerWithOptions(opts)
	if err != nil {
		log.Fatalf("build handler: %v", err)
	}

	log.Printf("listening on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, h); err != nil {
		log.Fatal(err)
	}
}
