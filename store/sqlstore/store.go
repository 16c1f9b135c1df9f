// Package sqlstore mirrors the in-memory order tables into a SQL database
// so active and archived orders survive a restart. Supported drivers are
// sqlite (modernc), pgx and mysql.
package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // register mysql
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"go-restaurant-orderhub/models"
	"go-restaurant-orderhub/store"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
	DriverMySQL    = "mysql"
)

// locationDiscarded marks a tombstone row. It keeps the discarded
// order's sequence number reserved across restarts.
const locationDiscarded = "discarded"

var _ store.OrderStore = (*Store)(nil)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store is a MemoryStore whose mutations are written through to SQL.
type Store struct {
	*store.MemoryStore
	db     *sqlx.DB
	driver string
}

type orderRow struct {
	ID       string `db:"id"`
	Branch   string `db:"branch"`
	Location string `db:"location"`
	Seq      int    `db:"seq"`
	Payload  string `db:"payload"`
}

// Open connects, ensures the orders table exists and hydrates the memory
// tables from it.
func Open(ctx context.Context, driver, dsn string, opts ...store.Option) (*Store, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if dsn == "" && driver == DriverSQLite {
		dsn = "orderhub.db"
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	if driver == DriverSQLite {
		// one writer keeps modernc sqlite from returning SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, driver: driver}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	active, archived, discarded, err := s.load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.MemoryStore = store.NewMemoryStore(append(opts, store.WithPersister(s))...)
	s.MemoryStore.Hydrate(active, archived, discarded)
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the connection for tests and health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) ensureSchema(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		branch TEXT NOT NULL,
		location TEXT NOT NULL,
		seq INTEGER NOT NULL,
		payload TEXT NOT NULL
	)`
	if s.driver == DriverMySQL {
		ddl = `CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(64) PRIMARY KEY,
			branch VARCHAR(64) NOT NULL,
			location VARCHAR(16) NOT NULL,
			seq INT NOT NULL,
			payload LONGTEXT NOT NULL
		)`
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrap(err, "create orders table")
	}
	return nil
}

// load splits the table by location. discarded maps each branch to the
// highest sequence number held by a tombstone.
func (s *Store) load(ctx context.Context) (active, archived []models.Order, discarded map[string]int, err error) {
	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, branch, location, seq, payload FROM orders`); err != nil {
		return nil, nil, nil, errors.Wrap(err, "select orders")
	}
	discarded = make(map[string]int)
	for _, r := range rows {
		if r.Location == locationDiscarded {
			if r.Seq > discarded[r.Branch] {
				discarded[r.Branch] = r.Seq
			}
			continue
		}
		var o models.Order
		if err := json.Unmarshal([]byte(r.Payload), &o); err != nil {
			return nil, nil, nil, errors.Wrapf(err, "decode order %s", r.ID)
		}
		switch models.Location(r.Location) {
		case models.LocationActive:
			active = append(active, o)
		case models.LocationArchive:
			archived = append(archived, o)
		default:
			return nil, nil, nil, fmt.Errorf("order %s has unknown location %q", r.ID, r.Location)
		}
	}
	return active, archived, discarded, nil
}

// SaveOrder implements store.Persister.
func (s *Store) SaveOrder(ctx context.Context, order models.Order, loc models.Location) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return errors.Wrap(err, "encode order")
	}
	query := `INSERT INTO orders (id, branch, location, seq, payload) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET location = excluded.location, payload = excluded.payload`
	if s.driver == DriverMySQL {
		query = `INSERT INTO orders (id, branch, location, seq, payload) VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE location = VALUES(location), payload = VALUES(payload)`
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), order.ID, order.Branch, string(loc), order.SequenceNumber, string(payload))
	return errors.Wrapf(err, "upsert order %s", order.ID)
}

// DeleteOrder implements store.Persister. The row stays behind as a
// tombstone with the order contents cleared.
func (s *Store) DeleteOrder(ctx context.Context, order models.Order) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind(`UPDATE orders SET location = ?, payload = '' WHERE id = ?`),
		locationDiscarded, order.ID)
	return errors.Wrapf(err, "discard order %s", order.ID)
}
