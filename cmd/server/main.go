package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aliyun/rdsai-cli/db"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	port := flag.Int("port", 4306, "TCP port to listen on")
	host := flag.String("db-host", "127.0.0.1", "Backend database host")
	dbPort := flag.Int("db-port", 3306, "Backend database port")
	user := flag.String("db-user", "", "Backend database user")
	database := flag.String("db-name", "", "Initial database")
	jwtSecret := flag.String("jwt-secret", "", "Enable JWT auth with this HS256 secret")
	jwtIssuer := flag.String("jwt-issuer", "", "Expected JWT issuer")
	jwtAudience := flag.String("jwt-audience", "", "Expected JWT audience")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rdsai-server v%s\n", Version)
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Positional arguments select embedded-engine data sources; otherwise
	// the server fronts a networked engine. The backend password comes from
	// the environment so it never lands in process listings.
	var ctx *db.ConnectionContext
	if args := flag.Args(); len(args) > 0 {
		ctx = db.CreateDataSourceContext(args, logger)
	} else {
		cfg := db.ConnectionConfig{
			Engine:   db.EngineMySQL,
			Host:     *host,
			Port:     *dbPort,
			User:     *user,
			Database: *database,
		}
		if password, ok := os.LookupEnv("RDSAI_DB_PASSWORD"); ok {
			cfg.Password = &password
		}
		ctx = db.CreateConnectionContext(cfg, logger, nil)
	}

	if !ctx.Connected() {
		logger.Error("backend connection failed", "error", ctx.Err)
		os.Exit(1)
	}

	var authConfig *AuthConfig
	if *jwtSecret != "" {
		authConfig = &AuthConfig{
			Enabled:   true,
			JWTSecret: *jwtSecret,
			Issuer:    *jwtIssuer,
			Audience:  *jwtAudience,
		}
	}

	server := NewServer(ctx.Service, authConfig, logger)
	addr := fmt.Sprintf(":%d", *port)

	if err := server.Start(addr); err != nil {
		logger.Error("server start failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("rdsai-server v%s\n", Version)
	fmt.Printf("Backend: %s\n", ctx.DisplayName)
	fmt.Printf("Listening on port %d\n", *port)
	fmt.Println("Send SQL statements (one per line), 'quit' to disconnect")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	server.Stop()
	ctx.Service.Disconnect()
	logger.Info("server stopped")
}
