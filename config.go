package main

import (
	"log"
	"strings"

	"github.com/orian/rulerepo/audit"
)

const (
	defaultEndpoint   = "http://localhost:8081/teamserver"
	defaultUser       = "rtsAdmin"
	defaultPassword   = "rtsAdmin"
	defaultDataSource = "jdbc/ilogDataSource"
	defaultListen     = ":8081"
	defaultDatastore  = "duckdb:./rulerepo.db"
	defaultBasePath   = "/teamserver"
)

// ClientConfig is what the provisioning run needs to reach a repository.
type ClientConfig struct {
	Endpoint   string
	User       string
	Password   string
	DataSource string
}

// ServerConfig configures `rulerepo serve`.
type ServerConfig struct {
	Listen     string
	Datastore  string
	DataSource string
	User       string
	Password   string
	SeedPath   string
	// ClickHouse is nil when no audit sink is configured.
	ClickHouse *audit.ClickHouseConfig
}

func envOr(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func loadClientConfig(getenv func(string) string) ClientConfig {
	return ClientConfig{
		Endpoint:   envOr(getenv, "REPO_URL", defaultEndpoint),
		User:       envOr(getenv, "REPO_USER", defaultUser),
		Password:   envOr(getenv, "REPO_PASSWORD", defaultPassword),
		DataSource: envOr(getenv, "REPO_DATASOURCE", defaultDataSource),
	}
}

func loadServerConfig(getenv func(string) string) ServerConfig {
	cfg := ServerConfig{
		Listen:     envOr(getenv, "REPO_LISTEN", defaultListen),
		Datastore:  envOr(getenv, "REPO_DATASTORE", defaultDatastore),
		DataSource: envOr(getenv, "REPO_DATASOURCE", defaultDataSource),
		User:       envOr(getenv, "REPO_USER", defaultUser),
		Password:   envOr(getenv, "REPO_PASSWORD", defaultPassword),
		SeedPath:   getenv("REPO_SEED"),
	}

	if host := getenv("CLICKHOUSE_HOST"); host != "" {
		cfg.ClickHouse = &audit.ClickHouseConfig{
			Host:     host,
			Database: envOr(getenv, "CLICKHOUSE_DATABASE", "default"),
			User:     envOr(getenv, "CLICKHOUSE_USER", "default"),
			Password: getenv("CLICKHOUSE_PASSWORD"),
			Secure:   getenv("CLICKHOUSE_SECURE") == "true",
		}
	}
	return cfg
}

func (c ClientConfig) print() {
	log.Println("=== Repository Connection Details ===")
	log.Printf("URL: %s", c.Endpoint)
	log.Printf("Datasource: %s", c.DataSource)
	log.Printf("User: %s", c.User)
	log.Printf("Password: %s", maskPassword(c.Password))
	log.Println("=====================================")
}

func (c ServerConfig) print() {
	log.Println("=== Repository Server ===")
	log.Printf("Listen: %s", c.Listen)
	log.Printf("Datastore: %s", c.Datastore)
	log.Printf("Datasource: %s", c.DataSource)
	log.Printf("User: %s", c.User)
	log.Printf("Password: %s", maskPassword(c.Password))
	if c.SeedPath != "" {
		log.Printf("Seed: %s", c.SeedPath)
	}
	if ch := c.ClickHouse; ch != nil {
		log.Printf("ClickHouse: %s/%s as %s (password %s, secure %v)",
			ch.Host, ch.Database, ch.User, maskPassword(ch.Password), ch.UseSecure())
	}
	log.Println("=========================")
}

// maskPassword keeps the first and last character of a password.
func maskPassword(password string) string {
	if password == "" {
		return "<empty>"
	}
	if len(password) <= 2 {
		return password
	}
	return string(password[0]) + strings.Repeat("*", len(password)-2) + string(password[len(password)-1])
}
