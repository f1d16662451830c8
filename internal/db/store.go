package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ticlink-project/ticlink/internal/session"
)

// Store persists bans and incidents. It implements session.BanStore.
type Store struct {
	db *Database
}

var _ session.BanStore = (*Store)(nil)

// Incident is one noteworthy event of a game: a desync, a kick, a
// spoofed packet.
type Incident struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Node      int       `json:"node"`
	Player    int       `json:"player"`
	Name      string    `json:"name,omitempty"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// NewStore opens the database at dbPath and migrates it.
func NewStore(dbPath string) (*Store, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	s := &Store{db: database}
	if err := s.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS bans (
			address TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			node INTEGER NOT NULL DEFAULT -1,
			player INTEGER NOT NULL DEFAULT -1,
			name TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_incidents_kind ON incidents(kind);
		CREATE INDEX IF NOT EXISTS idx_incidents_created ON incidents(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	s.db.logger.Debug().Msg("database schema migrated")
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsBanned reports whether addr matches a ban. A ban address may be a
// single IP or a CIDR range.
func (s *Store) IsBanned(addr string) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM bans WHERE address = ?", addr).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("ban lookup failed: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return false, nil
	}
	ranges, err := s.ranges()
	if err != nil {
		return false, err
	}
	for _, r := range ranges {
		if r.Contains(ip) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ranges() ([]*net.IPNet, error) {
	rows, err := s.db.Query("SELECT address FROM bans WHERE address LIKE '%/%'")
	if err != nil {
		return nil, fmt.Errorf("ban lookup failed: %w", err)
	}
	defer rows.Close()

	var out []*net.IPNet
	for rows.Next() {
		var cidr string
		if err := rows.Scan(&cidr); err != nil {
			return nil, err
		}
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			out = append(out, n)
		}
	}
	return out, rows.Err()
}

// AddBan records b, replacing an existing ban of the same address.
func (s *Store) AddBan(b session.Ban) error {
	if err := ValidBanAddress(b.Address); err != nil {
		return err
	}
	if b.Created.IsZero() {
		b.Created = time.Now()
	}
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO bans (address, name, reason, created_at) VALUES (?, ?, ?, ?)",
		b.Address, b.Name, b.Reason, b.Created.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to add ban: %w", err)
	}
	s.db.logger.Info().Str("address", b.Address).Str("reason", b.Reason).Msg("ban recorded")
	return nil
}

// RemoveBan lifts the ban on addr and reports whether one existed.
func (s *Store) RemoveBan(addr string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM bans WHERE address = ?", addr)
	if err != nil {
		return false, fmt.Errorf("failed to remove ban: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListBans returns every ban, oldest first.
func (s *Store) ListBans() ([]session.Ban, error) {
	rows, err := s.db.Query("SELECT address, name, reason, created_at FROM bans ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bans []session.Ban
	for rows.Next() {
		var b session.Ban
		var created int64
		if err := rows.Scan(&b.Address, &b.Name, &b.Reason, &created); err != nil {
			return nil, err
		}
		b.Created = time.Unix(0, created)
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

// ValidBanAddress accepts an IP address or a CIDR range.
func ValidBanAddress(addr string) error {
	if strings.Contains(addr, "/") {
		if _, _, err := net.ParseCIDR(addr); err != nil {
			return fmt.Errorf("invalid ban range %q: %w", addr, err)
		}
		return nil
	}
	if net.ParseIP(addr) == nil {
		return fmt.Errorf("invalid ban address %q", addr)
	}
	return nil
}

// RecordIncident stores inc under a fresh id and returns it.
func (s *Store) RecordIncident(inc Incident) (Incident, error) {
	inc.ID = uuid.NewString()
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		"INSERT INTO incidents (id, kind, node, player, name, detail, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		inc.ID, inc.Kind, inc.Node, inc.Player, inc.Name, inc.Detail, inc.CreatedAt.UnixNano())
	if err != nil {
		return Incident{}, fmt.Errorf("failed to record incident: %w", err)
	}
	return inc, nil
}

// Incidents returns the newest incidents, optionally of one kind.
func (s *Store) Incidents(kind string, limit int) ([]Incident, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT id, kind, node, player, name, detail, created_at FROM incidents"
	args := []interface{}{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// Incident returns one incident by id.
func (s *Store) Incident(id string) (Incident, bool, error) {
	inc, err := scanIncident(s.db.QueryRow(
		"SELECT id, kind, node, player, name, detail, created_at FROM incidents WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return Incident{}, false, nil
	}
	if err != nil {
		return Incident{}, false, err
	}
	return inc, true, nil
}

// CleanOldIncidents removes incidents older than days.
func (s *Store) CleanOldIncidents(days int) (int64, error) {
	res, err := s.db.Exec("DELETE FROM incidents WHERE created_at < ?", time.Now().AddDate(0, 0, -days).UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row scanner) (Incident, error) {
	var inc Incident
	var created int64
	if err := row.Scan(&inc.ID, &inc.Kind, &inc.Node, &inc.Player, &inc.Name, &inc.Detail, &created); err != nil {
		return Incident{}, err
	}
	inc.CreatedAt = time.Unix(0, created)
	return inc, nil
}
