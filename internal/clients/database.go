package clients

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/StuartCAlexander88/World-Queries/internal/config"
)

// Query parameters shown in the connection URL. The MySQL set mirrors what
// the stack's JDBC consumers use; openMySQL applies the same settings to the
// Go driver.
const (
	mysqlURLParams    = "useSSL=false&allowPublicKeyRetrieval=true&serverTimezone=UTC"
	postgresURLParams = "sslmode=disable&timezone=UTC"
)

// Database is a single verified connection to the relational service. The
// caller owns it and must Close it.
type Database struct {
	db     *sql.DB
	driver string
}

// DatabaseClient opens Database handles for one DeploymentConfig.
type DatabaseClient struct {
	cfg  config.DeploymentConfig
	open func(cfg config.DeploymentConfig) (*sql.DB, error)
}

// NewDatabaseClient creates a DatabaseClient. No connection is made at
// construction time.
func NewDatabaseClient(cfg config.DeploymentConfig) *DatabaseClient {
	return &DatabaseClient{
		cfg:  cfg,
		open: realOpen,
	}
}

// Open establishes one connection and pings it. It only returns a handle the
// server has answered on; on any failure nothing is left open.
func (c *DatabaseClient) Open(ctx context.Context) (*Database, error) {
	db, err := c.open(c.cfg)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Database{db: db, driver: c.cfg.Driver}, nil
}

// Close releases the connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// ConnectionURL renders the connection target without credentials, suitable
// for logging.
func ConnectionURL(cfg config.DeploymentConfig) string {
	params := mysqlURLParams
	if cfg.Driver == config.DriverPostgres {
		params = postgresURLParams
	}
	return fmt.Sprintf("%s://%s/%s?%s", cfg.Driver, cfg.Addr(), cfg.Name, params)
}

// realOpen builds a driver connector for cfg and wraps it in a *sql.DB capped
// at a single connection.
func realOpen(cfg config.DeploymentConfig) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case config.DriverPostgres:
		db, err = openPostgres(cfg)
	default:
		db, err = openMySQL(cfg)
	}
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func openMySQL(cfg config.DeploymentConfig) (*sql.DB, error) {
	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = cfg.Addr()
	mc.DBName = cfg.Name
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	// Plain TCP; the driver fetches the server's RSA key itself when
	// caching_sha2_password needs it.
	mc.TLSConfig = "false"
	mc.Loc = time.UTC
	mc.Params = map[string]string{"time_zone": "'+00:00'"}

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("building mysql connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

func openPostgres(cfg config.DeploymentConfig) (*sql.DB, error) {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Addr(),
		Path:     "/" + cfg.Name,
		RawQuery: postgresURLParams,
	}

	pcfg, err := pgx.ParseConfig(u.String())
	if err != nil {
		// The parse error can echo the DSN; keep the password out of it.
		return nil, fmt.Errorf("parsing postgres config for %s", ConnectionURL(cfg))
	}
	return sql.OpenDB(stdlib.GetConnector(*pcfg)), nil
}
