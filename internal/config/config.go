// Package config provides functionality for managing configuration options
// for the key-store server using command-line flags and environment variables.
package config

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"
)

// Options holds the configuration values for the server.
type Options struct {
	// Addr defines the server's listening address (ip:port).
	Addr string

	// DatabaseDSN holds the PostgreSQL connection string.
	DatabaseDSN string

	// CertFile is the path to the server TLS certificate.
	CertFile string

	// KeyFile is the path to the server TLS private key.
	KeyFile string

	// CAFile is the path to the CA certificate used both to verify
	// client certificates and to sign newly issued ones.
	CAFile string

	// CAKeyFile is the path to the CA private key.
	CAKeyFile string

	// AuditRetention is how long audit events are kept before the
	// retention cleaner removes them.
	AuditRetention time.Duration

	// AdminUser and AdminPassword name the initial admin identity
	// seeded into an empty database at startup. Seeding is skipped
	// when the password is unset or any identity already exists.
	AdminUser     string
	AdminPassword string

	// Config is the path to the config file.
	Config string
}

// options holds the current configuration values.
var options = &Options{}

// init initializes command-line flags and sets default values.
func init() {
	flag.StringVar(&options.Addr, "a", "localhost:8443", "run on ip:port server")
	flag.StringVar(&options.DatabaseDSN, "d", "", "db address")
	flag.StringVar(&options.CertFile, "cert", "certs/server.crt", "path to server TLS cert")
	flag.StringVar(&options.KeyFile, "key", "certs/server.key", "path to server TLS key")
	flag.StringVar(&options.CAFile, "ca", "certs/ca.crt", "path to CA cert")
	flag.StringVar(&options.CAKeyFile, "cakey", "certs/ca.key", "path to CA key")
	flag.DurationVar(&options.AuditRetention, "audit-retention", 90*24*time.Hour, "audit event retention")
	flag.StringVar(&options.AdminUser, "admin-user", "admin", "initial admin username seeded into an empty database")
	flag.StringVar(&options.AdminPassword, "admin-password", "", "initial admin password (no seeding when empty)")
	flag.StringVar(&options.Config, "config", "config.json", "path to config file")
	flag.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
}

// Parse parses the command-line flags and environment variables to set
// configuration values. It returns a pointer to the Options struct
// containing the parsed configuration values.
func Parse() *Options {
	flag.Parse()

	// Override flags with environment variables if set
	if configPath := os.Getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				log.Fatalf("error while reading config file: %v", err)
			}
			if err := json.Unmarshal(data, options); err != nil {
				log.Fatalf("error while parsing config file: %v", err)
			}
		}
	}

	if serverAddress := os.Getenv("SERVER_ADDRESS"); serverAddress != "" {
		options.Addr = serverAddress
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		options.DatabaseDSN = dsn
	}
	if adminUser := os.Getenv("ADMIN_USER"); adminUser != "" {
		options.AdminUser = adminUser
	}
	if adminPassword := os.Getenv("ADMIN_PASSWORD"); adminPassword != "" {
		options.AdminPassword = adminPassword
	}

	return options
}
