// Ami is the mental-wellness companion service.
//
// Configuration comes from the environment and an optional .env file in the
// working directory. Common variables:
//
//	AMI_HTTP_ADDR         - HTTP and websocket listen address (default ":8080")
//	AMI_PERSONA_FILE      - persona YAML replacing the built-in one
//	AMI_GENERATOR         - "local" keyword replies (default) or "remote"
//	AMI_REMOTE_API_KEY    - API key for the remote chat model
//	AMI_REMOTE_BASE_URL   - OpenAI-compatible endpoint
//	AMI_TRANSCRIPTS       - "none" (default), "sqlite" or "redis"
//	AMI_DATABASE_PATH     - SQLite database (default "./ami.db")
//	AMI_REDIS_URL         - redis:// URL for redis transcripts
//	AMI_TRANSCRIPT_KEY    - hex AES-256 key; encrypts archived text when set
//	AMI_SESSION_IDLE_TTL  - close unopened sessions after this long (default 30m)
//	MATRIX_HOMESERVER     - enables the Matrix bridge together with
//	MATRIX_USER_ID, MATRIX_ACCESS_TOKEN and MATRIX_ROOMS (comma separated)
//	AMI_LOG_LEVEL         - "debug", "info", "warn", "error" (default "info")
//	AMI_LOG_FORMAT        - "text" or "json" (default "text")
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/thriveai/ami/common/version"
	"github.com/thriveai/ami/internal/ami/app"
	"github.com/thriveai/ami/internal/ami/config"
	"github.com/thriveai/ami/internal/ami/observability"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error:\n%v\n", err)
		os.Exit(1)
	}
	logger := observability.Setup(cfg.LogLevel, cfg.LogFormat)

	ami, err := app.New(cfg, logger)
	if err != nil {
		slog.Error("failed to initialize Ami", "err", err)
		os.Exit(1)
	}
	defer ami.Stop()

	if err := ami.Run(); err != nil {
		slog.Error("Ami exited with error", "err", err)
		ami.Stop()
		os.Exit(1)
	}
}
