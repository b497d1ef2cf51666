// Package pgconn adapts the pgx/v5 driver to the ingest.Connector and
// ingest.WorkerConn contracts: one *pgx.Conn per worker, no pool.
package pgconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/elchinoo/pgstream/internal/config"
	"github.com/elchinoo/pgstream/pkg/ingest"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// connector builds one fresh *pgx.Conn per Connect call, per
// ingest.Connector's one-connection-per-worker contract.
type connector struct {
	connString string
	tlsConfig  *tls.Config
}

// NewConnector builds an ingest.Connector from database configuration. It
// reads and parses the root certificate once up front, so a misconfigured
// TLS setup fails fast at startup rather than on the first worker's
// connect attempt.
func NewConnector(cfg config.DatabaseConfig) (ingest.Connector, error) {
	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	connString := fmt.Sprintf(
		"user=%s password=%s host=%s port=%d dbname=%s sslmode=%s connect_timeout=10",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Dbname, cfg.Sslmode,
	)

	return &connector{connString: connString, tlsConfig: tlsCfg}, nil
}

func buildTLSConfig(cfg config.DatabaseConfig) (*tls.Config, error) {
	if cfg.RootCertPath == "" {
		return nil, nil
	}

	pem, err := os.ReadFile(cfg.RootCertPath)
	if err != nil {
		return nil, errors.Wrapf(err, "read root cert %s", cfg.RootCertPath)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.Errorf("no certificates found in %s", cfg.RootCertPath)
	}

	return &tls.Config{RootCAs: pool, ServerName: cfg.Host}, nil
}

func (c *connector) Connect(ctx context.Context) (ingest.WorkerConn, error) {
	pgCfg, err := pgx.ParseConfig(c.connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse connection string")
	}
	if c.tlsConfig != nil {
		pgCfg.TLSConfig = c.tlsConfig
	}

	conn, err := pgx.ConnectConfig(ctx, pgCfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}

	return &workerConn{conn: conn}, nil
}

// workerConn wraps one *pgx.Conn, implementing ingest.WorkerConn. A
// workerConn is touched by exactly one goroutine for its entire lifetime,
// matching pgx.Conn's own non-concurrent-use contract.
type workerConn struct {
	conn *pgx.Conn
}

// Exec executes stmt against conn. Note that pgx keys its internal
// statement cache by SQL text, not by the name handed to Prepare — passing
// stmt.SQL here (rather than stmt.Name) is what makes pgx reuse the plan
// built during Prepare instead of re-planning on every call.
func (w *workerConn) Exec(ctx context.Context, stmt *ingest.PreparedStatement, args ...any) (int64, error) {
	tag, err := w.conn.Exec(ctx, stmt.SQL, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "exec %s", stmt.Name)
	}
	return tag.RowsAffected(), nil
}

func (w *workerConn) Prepare(ctx context.Context, name, sql string) (*ingest.PreparedStatement, error) {
	if _, err := w.conn.Prepare(ctx, name, sql); err != nil {
		return nil, errors.Wrapf(err, "prepare %s", name)
	}
	return &ingest.PreparedStatement{Name: name, SQL: sql}, nil
}

func (w *workerConn) Close(ctx context.Context) error {
	return w.conn.Close(ctx)
}
