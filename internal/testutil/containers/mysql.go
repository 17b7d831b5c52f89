//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MySQLConfig configures NewMySQLContainer.
type MySQLConfig struct {
	ImageTag string
	Database string
	Username string
	Password string
}

// DefaultMySQLConfig returns the configuration used by the repository tests.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		ImageTag: "8.0",
		Database: "aquasentinel_test",
		Username: "aquasentinel",
		Password: "aquasentinel",
	}
}

// MySQLContainer is a running MySQL server plus a raw connection used for
// resetting tables between tests.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	db        *sql.DB
	dsn       string
}

// NewMySQLContainer starts MySQL. A nil config selects DefaultMySQLConfig.
func NewMySQLContainer(ctx context.Context, config *MySQLConfig) (*MySQLContainer, error) {
	cfg := DefaultMySQLConfig()
	if config != nil {
		cfg = *config
	}

	c, err := mysql.Run(ctx, "mysql:"+cfg.ImageTag,
		mysql.WithDatabase(cfg.Database),
		mysql.WithUsername(cfg.Username),
		mysql.WithPassword(cfg.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start MySQL container: %w", err)
	}

	// gorm needs parseTime for DATETIME columns.
	dsn, err := c.ConnectionString(ctx, "parseTime=true", "charset=utf8mb4")
	if err != nil {
		_ = terminate("mysql", func(ctx context.Context) error { return c.Terminate(ctx) })
		return nil, fmt.Errorf("failed to get MySQL connection string: %w", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		_ = terminate("mysql", func(ctx context.Context) error { return c.Terminate(ctx) })
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	if err := waitReady(ctx, "mysql", db.PingContext); err != nil {
		_ = db.Close()
		_ = terminate("mysql", func(ctx context.Context) error { return c.Terminate(ctx) })
		return nil, err
	}

	return &MySQLContainer{container: c, db: db, dsn: dsn}, nil
}

// GetDSN returns a go-sql-driver DSN for the test database.
func (c *MySQLContainer) GetDSN() string {
	return c.dsn
}

// Reset empties tables with foreign key checks disabled.
func (c *MySQLContainer) Reset(ctx context.Context, tables []string) error {
	for _, table := range tables {
		if !tableNameRe.MatchString(table) {
			return fmt.Errorf("invalid table name %q", table)
		}
	}

	// SET FOREIGN_KEY_CHECKS is per session, so pin one connection.
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire MySQL connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stmts := []string{"SET FOREIGN_KEY_CHECKS = 0"}
	for _, table := range tables {
		stmts = append(stmts, "TRUNCATE TABLE `"+table+"`")
	}
	stmts = append(stmts, "SET FOREIGN_KEY_CHECKS = 1")

	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset failed at %q: %w", strings.TrimSpace(stmt), err)
		}
	}
	return nil
}

// Terminate closes the connection and removes the container.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate mysql container: %w", err)
	}
	return nil
}
