package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/microsoft/go-mssqldb/azuread"
)

// FabricConfig identifies a Fabric (SQL Server) endpoint and the Entra ID
// service principal used to sign in to it.
type FabricConfig struct {
	Server       string
	Database     string
	ClientID     string
	ClientSecret string
	TenantID     string
}

// DSN assembles an encrypted, service-principal authenticated connection
// string for the azuread driver.
func (c FabricConfig) DSN() (string, error) {
	if c.Server == "" || c.Database == "" || c.ClientID == "" || c.ClientSecret == "" {
		return "", fmt.Errorf("fabric server, database, client id and client secret are required")
	}
	user := c.ClientID
	if c.TenantID != "" {
		user = c.ClientID + "@" + c.TenantID
	}

	q := url.Values{}
	q.Set("database", c.Database)
	q.Set("fedauth", azuread.ActiveDirectoryServicePrincipal)
	q.Set("user id", user)
	q.Set("password", c.ClientSecret)
	q.Set("encrypt", "true")
	q.Set("TrustServerCertificate", "false")

	u := &url.URL{Scheme: "sqlserver", Host: c.Server, RawQuery: q.Encode()}
	return u.String(), nil
}

// OpenFabric opens a connection pool against a Fabric SQL endpoint and
// verifies it with a ping.
func OpenFabric(ctx context.Context, cfg FabricConfig, maxConns, minConns int32) (*sql.DB, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}

	pool, err := sql.Open(azuread.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open fabric connection: %w", err)
	}
	pool.SetMaxOpenConns(int(maxConns))
	pool.SetMaxIdleConns(int(minConns))

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping fabric: %w", err)
	}
	return pool, nil
}
