package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tapistry/shared/authx"
	"tapistry/shared/config"
	"tapistry/shared/logx"
)

func main() {
	_ = godotenv.Load()
	project := flag.String("project", "", "project id to mint a key for")
	ttl := flag.Duration("ttl", 0, "key lifetime; zero never expires")
	verify := flag.String("verify", "", "verify a key instead of minting one")
	flag.Parse()

	cfg, _ := config.Load("tapistry-keygen", 8083)
	logger := logx.New(cfg.ServiceName, cfg.Env, strings.TrimSpace(os.Getenv("VERSION")), cfg.LogLevel)
	secret := []byte(strings.TrimSpace(cfg.ProjectKeySecret))

	if *verify != "" {
		id, err := authx.VerifyProjectKey(secret, strings.TrimSpace(*verify))
		if err != nil {
			logger.Error(context.Background(), "key_invalid", "key verification failed",
				slog.String("error_code", "UNAUTHENTICATED"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		fmt.Println(id)
		return
	}

	key, err := authx.MintProjectKey(secret, *project, *ttl, time.Now())
	if err != nil {
		logger.Error(context.Background(), "key_mint_failed", "failed to mint project key",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info(context.Background(), "key_minted", "project key minted",
		slog.String("project_id", strings.TrimSpace(*project)),
		slog.Duration("ttl", *ttl),
	)
	fmt.Println(key)
}
