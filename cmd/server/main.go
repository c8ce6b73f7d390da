// Package main initializes and starts the piivault HTTPS key-store
// server, setting up configuration, logging, database connections,
// repositories, services, handlers, and mutual TLS.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	nethttp "net/http"

	"github.com/ndanilov/piivault/internal/config"
	"github.com/ndanilov/piivault/internal/db"
	"github.com/ndanilov/piivault/internal/logger"
	"github.com/ndanilov/piivault/internal/repository"
	"github.com/ndanilov/piivault/internal/server/handler/http"
	"github.com/ndanilov/piivault/internal/service"
	"go.uber.org/zap"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init("Info"); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	// Initialize PostgreSQL connection.
	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}

	// Seed the first admin identity on an empty database so the
	// deployment can be bootstrapped without hand-written SQL.
	if err := db.SeedInitialAdmin(context.Background(), postgresDB, options.AdminUser, options.AdminPassword, zapLogger); err != nil {
		zapLogger.Fatal("cannot seed initial admin", zap.Error(err))
	}

	// Drop audit events past the retention window on a fixed cadence.
	db.StartAuditRetentionCleaner(context.Background(), postgresDB,
		time.Hour, // interval
		options.AuditRetention,
		zapLogger,
	)

	// Initialize repositories for identities, key records, and audit.
	identityRepo := repository.NewPostgresIdentityRepository(postgresDB)
	keyRepo := repository.NewPostgresKeyRecordRepository(postgresDB)
	auditRepo := repository.NewPostgresAuditRepository(postgresDB)

	// Initialize business-logic services.
	auditor := service.NewAuditor(auditRepo, zapLogger)
	identityService := service.NewIdentityService(identityRepo, auditor)
	keyService := service.NewKeyStoreService(keyRepo, identityRepo, auditor)

	// Create HTTP handlers for auth and key-store endpoints.
	authHandler := &http.AuthHandler{
		IdentityService: identityService,
		CACertPath:      options.CAFile,
		CAKeyPath:       options.CAKeyFile,
	}
	keyHandler := &http.KeyHandler{Keys: keyService, Identities: identityService}

	// Build the router with middleware and routes.
	router := http.NewRouter(authHandler, keyHandler, zapLogger)

	// Load server TLS certificate and key.
	cert, err := tls.LoadX509KeyPair(options.CertFile, options.KeyFile)
	if err != nil {
		zapLogger.Fatal("failed to load server TLS cert/key", zap.Error(err))
	}

	// Load and append CA certificate for client cert verification.
	caCert, err := os.ReadFile(options.CAFile)
	if err != nil {
		zapLogger.Fatal("failed to read CA cert", zap.Error(err))
	}
	caCertPool := x509.NewCertPool()
	if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
		zapLogger.Fatal("failed to append CA cert to pool")
	}

	// Configure TLS to verify client certificates where presented;
	// /api/register stays reachable for fresh devices, CertAuth
	// enforces a certificate on everything else.
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    caCertPool,
		MinVersion:   tls.VersionTLS12,
	}

	// Create and start the HTTPS server.
	server := &nethttp.Server{
		Addr:      options.Addr,
		Handler:   router,
		TLSConfig: tlsConfig,
	}

	zapLogger.Info("starting HTTPS server", zap.String("addr", options.Addr))
	if err := server.ListenAndServeTLS("", ""); err != nil {
		zapLogger.Fatal("failed to start HTTPS server", zap.Error(err))
	}
}
