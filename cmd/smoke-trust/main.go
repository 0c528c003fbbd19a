package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"tisp.org/internal/auth"
	"tisp.org/internal/config"
	"tisp.org/internal/grpcapi"
	"tisp.org/internal/obs"
	"tisp.org/internal/trust"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := obs.NewLogger(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	defaultAddr := cfg.GRPCAddr
	if strings.HasPrefix(defaultAddr, ":") {
		defaultAddr = "localhost" + defaultAddr
	}
	addr := flag.String("addr", defaultAddr, "trustd gRPC address")
	source := flag.String("source", "", "organization extending trust")
	target := flag.String("target", "", "organization receiving trust")
	timeout := flag.Duration("timeout", 5*time.Second, "per-call timeout")
	flag.Parse()

	if *source == "" || *target == "" {
		logger.Fatal("usage: smoke-trust -source ORG -target ORG [-addr host:port]")
	}

	issuer, err := auth.NewIssuer(cfg.AuthSecret, auth.WithIssuer(cfg.AuthIssuer))
	if err != nil {
		logger.Fatal("auth issuer", zap.Error(err))
	}
	token, _, err := issuer.GenerateToken(trust.Principal{User: "smoke-trust", RoleName: trust.RolePlatformAdmin}, time.Minute)
	if err != nil {
		logger.Fatal("mint token", zap.Error(err))
	}

	client, err := grpcapi.Dial(*addr, token)
	if err != nil {
		logger.Fatal("dial trustd", zap.String("addr", *addr), zap.Error(err))
	}
	defer func() { _ = client.Close() }()
	client.Timeout = *timeout

	ctx := context.Background()
	healthy, err := client.Healthy(ctx)
	if err != nil || !healthy {
		logger.Fatal("trustd not serving", zap.Bool("healthy", healthy), zap.Error(err))
	}

	check, err := client.CheckTrust(ctx, *source, *target)
	if err != nil {
		logger.Fatal("check trust", zap.Error(err))
	}
	if check["found"] != true {
		fmt.Printf("no trust from %s to %s\n", *source, *target)
		os.Exit(2)
	}

	decision, err := client.CanAccess(ctx, *target, *source, string(trust.AccessRead))
	if err != nil {
		logger.Fatal("can access", zap.Error(err))
	}
	level, _ := check["trust_level"].(map[string]any)
	fmt.Printf("trust %s -> %s: level=%v access=%v read_allowed=%v\n",
		*source, *target, level["name"], level["access_level"], decision["allowed"])
}
