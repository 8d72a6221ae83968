// Package banlist keeps banned peer addresses in a SQLite database and
// refuses them during the connection handshake.
package banlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/opd-ai/gamenet/clock"
	"github.com/opd-ai/gamenet/transport"
	"github.com/sirupsen/logrus"
)

// admitTimeout bounds the lookup done for every connect request.
const admitTimeout = time.Second

const schema = `CREATE TABLE IF NOT EXISTS ban (
	addr       TEXT PRIMARY KEY NOT NULL,
	reason     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);`

var (
	// ErrInvalidAddress indicates a string that is not an IP address.
	ErrInvalidAddress = errors.New("invalid ip address format")
	// ErrAlreadyBanned is returned by Ban for an address that is banned.
	ErrAlreadyBanned = errors.New("address already banned")
	// ErrNotBanned is returned by Unban for an address that is not banned.
	ErrNotBanned = errors.New("address not banned")
	// ErrBanned is the rejection Admit returns for a banned peer.
	ErrBanned = errors.New("banned")
)

// Entry is one banned address.
type Entry struct {
	Addr      string
	Reason    string
	CreatedAt time.Time
}

// Store is a ban list backed by SQLite. Bans apply to an IP address
// regardless of port.
type Store struct {
	db *sql.DB
	tp clock.TimeProvider
}

// Open opens or creates the database at path. ":memory:" keeps the list in
// memory for the lifetime of the store.
func Open(path string, tp clock.TimeProvider) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ban list %s: %w", path, err)
	}
	// One connection: SQLite serializes writers and an in-memory database
	// exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize ban list %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"path":      path,
		"component": "BanList",
	}).Debug("Ban list opened")
	return &Store{db: db, tp: clock.Or(tp)}, nil
}

// normalize parses ip and returns its canonical text form.
func normalize(ip string) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
	}
	return addr.Unmap().String(), nil
}

// Ban adds ip with reason.
func (s *Store) Ban(ctx context.Context, ip, reason string) error {
	addr, err := normalize(ip)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "banned"
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ban (addr, reason, created_at) VALUES (?, ?, ?) ON CONFLICT(addr) DO NOTHING;`,
		addr, reason, s.tp.Now().Unix())
	if err != nil {
		return fmt.Errorf("ban %s: %w", addr, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyBanned, addr)
	}

	logrus.WithFields(logrus.Fields{
		"addr":      addr,
		"reason":    reason,
		"component": "BanList",
	}).Info("Address banned")
	return nil
}

// Unban removes ip.
func (s *Store) Unban(ctx context.Context, ip string) error {
	addr, err := normalize(ip)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM ban WHERE addr = ?;`, addr)
	if err != nil {
		return fmt.Errorf("unban %s: %w", addr, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotBanned, addr)
	}
	return nil
}

// IsBanned reports whether ip is banned and why.
func (s *Store) IsBanned(ctx context.Context, ip string) (bool, string, error) {
	addr, err := normalize(ip)
	if err != nil {
		return false, "", err
	}
	var reason string
	err = s.db.QueryRowContext(ctx, `SELECT reason FROM ban WHERE addr = ?;`, addr).Scan(&reason)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("look up %s: %w", addr, err)
	}
	return true, reason, nil
}

// List returns every ban, oldest first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT addr, reason, created_at FROM ban ORDER BY created_at, addr;`)
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.Addr, &e.Reason, &created); err != nil {
			return nil, fmt.Errorf("list bans: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Admit refuses banned peers. A lookup failure also refuses the peer.
func (s *Store) Admit(addr transport.Address) error {
	ctx, cancel := context.WithTimeout(context.Background(), admitTimeout)
	defer cancel()

	banned, reason, err := s.IsBanned(ctx, addr.IP().String())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"addr":      addr.String(),
			"error":     err.Error(),
			"component": "BanList",
		}).Error("Ban lookup failed")
		return fmt.Errorf("%w: ban list unavailable", ErrBanned)
	}
	if banned {
		return fmt.Errorf("%w: %s", ErrBanned, reason)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
