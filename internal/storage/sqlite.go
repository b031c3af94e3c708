// Package storage keeps the capture catalog: a SQLite index of stored fixtures.
package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/woozymasta/fixtura/assets"
	"github.com/woozymasta/fixtura/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

const captureColumns = `
	protocol, version, ip, port, path, country_code,
	server_title, map_name, num_players, max_players, online,
	count, first_seen, last_seen`

// Repository manages the SQLite database connection.
type Repository struct {
	db *sql.DB
}

// New opens the catalog at dbPath and applies pending migrations.
func New(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := migrate(db, assets.FS()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// UpsertCapture inserts a capture or refreshes an existing one with the same
// protocol, version, IP and port. The count is incremented on every upsert.
func (r *Repository) UpsertCapture(e models.CatalogEntry) error {
	query := `
	INSERT INTO captures (` + captureColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	ON CONFLICT(protocol, version, ip, port) DO UPDATE SET
		count = count + 1,
		last_seen = excluded.last_seen,
		path = excluded.path,
		online = excluded.online,

		-- keep the known country when the lookup came back empty
		country_code = CASE WHEN excluded.country_code != '' THEN excluded.country_code ELSE captures.country_code END,

		-- offline snapshots carry no details
		server_title = CASE WHEN excluded.online THEN excluded.server_title ELSE captures.server_title END,
		map_name     = CASE WHEN excluded.online THEN excluded.map_name ELSE captures.map_name END,
		num_players  = CASE WHEN excluded.online THEN excluded.num_players ELSE captures.num_players END,
		max_players  = CASE WHEN excluded.online THEN excluded.max_players ELSE captures.max_players END;
	`

	_, err := r.db.Exec(query,
		e.Protocol, e.Version, e.IP, e.Port, e.Path, e.CountryCode,
		e.ServerTitle, e.MapName, e.NumPlayers, e.MaxPlayers, e.Online,
		e.FirstSeen.UTC(), e.LastSeen.UTC(),
	)

	return err
}

// GetCaptures returns all catalog entries, most recently seen first.
func (r *Repository) GetCaptures() ([]models.CatalogEntry, error) {
	return r.query(`SELECT ` + captureColumns + ` FROM captures ORDER BY last_seen DESC`)
}

// GetCapturesSubset returns catalog entries of one protocol, or all when protocol is empty.
func (r *Repository) GetCapturesSubset(protocol string) ([]models.CatalogEntry, error) {
	if protocol == "" {
		return r.GetCaptures()
	}

	return r.query(`SELECT `+captureColumns+` FROM captures WHERE protocol = ? ORDER BY last_seen DESC`, protocol)
}

// GetCapture returns a single entry, or nil when it does not exist.
func (r *Repository) GetCapture(protocol, version, ip string, port int) (*models.CatalogEntry, error) {
	row := r.db.QueryRow(`SELECT `+captureColumns+` FROM captures
		WHERE protocol = ? AND version = ? AND ip = ? AND port = ?`,
		protocol, version, ip, port)

	e, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// DeleteCapture removes a single entry.
func (r *Repository) DeleteCapture(protocol, version, ip string, port int) error {
	_, err := r.db.Exec(`DELETE FROM captures WHERE protocol = ? AND version = ? AND ip = ? AND port = ?`,
		protocol, version, ip, port)
	return err
}

func (r *Repository) query(query string, args ...any) ([]models.CatalogEntry, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []models.CatalogEntry
	for rows.Next() {
		e, err := scanCapture(rows)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCapture(row scanner) (models.CatalogEntry, error) {
	var e models.CatalogEntry
	err := row.Scan(
		&e.Protocol, &e.Version, &e.IP, &e.Port, &e.Path, &e.CountryCode,
		&e.ServerTitle, &e.MapName, &e.NumPlayers, &e.MaxPlayers, &e.Online,
		&e.Count, &e.FirstSeen, &e.LastSeen,
	)

	return e, err
}
