package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store provides SQLite-backed persistence. A single connection with WAL
// journaling serializes writers; the mutex additionally guards
// multi-statement operations.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	logger *zap.Logger
}

// Open initializes the SQLite database at path, creating the schema when
// missing. The parent directory is created as needed.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path, logger: logger.Named("store")}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.logger.Debug("database ready", zap.String("path", path))
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		slack_user_id TEXT PRIMARY KEY,
		username      TEXT NOT NULL,
		is_admin      INTEGER NOT NULL DEFAULT 0,
		botherable    INTEGER NOT NULL DEFAULT 1,
		switch_id     TEXT,
		created_at    DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	CREATE INDEX IF NOT EXISTS idx_users_switch_id ON users(switch_id);

	CREATE TABLE IF NOT EXISTS switches (
		switch_id   TEXT PRIMARY KEY,
		status      TEXT NOT NULL DEFAULT 'offline',
		power_state TEXT NOT NULL DEFAULT 'unknown',
		last_seen   DATETIME NOT NULL,
		device_info TEXT
	);

	CREATE TABLE IF NOT EXISTS groups (
		group_name TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_name    TEXT NOT NULL REFERENCES groups(group_name) ON DELETE CASCADE,
		slack_user_id TEXT NOT NULL REFERENCES users(slack_user_id) ON DELETE CASCADE,
		PRIMARY KEY (group_name, slack_user_id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// --- users ---

// CreateUser inserts a user, or refreshes username and admin flag when the
// user already exists.
func (s *Store) CreateUser(ctx context.Context, slackUserID, username string, isAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (slack_user_id, username, is_admin, botherable, created_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(slack_user_id) DO UPDATE SET
			username = excluded.username,
			is_admin = excluded.is_admin`,
		slackUserID, username, isAdmin, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", slackUserID, err)
	}
	return nil
}

// GetUser returns the user with the given Slack user ID.
func (s *Store) GetUser(ctx context.Context, slackUserID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT slack_user_id, username, is_admin, botherable, switch_id, created_at
		FROM users WHERE slack_user_id = ?`, slackUserID)
	return scanUser(row)
}

// GetUserByUsername returns the user with the given Slack username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT slack_user_id, username, is_admin, botherable, switch_id, created_at
		FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// ListUsers returns every user ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT slack_user_id, username, is_admin, botherable, switch_id, created_at
		FROM users ORDER BY created_at, slack_user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	return collectUsers(rows)
}

// IsAdmin reports whether the user exists and has the admin flag.
func (s *Store) IsAdmin(ctx context.Context, slackUserID string) (bool, error) {
	u, err := s.GetUser(ctx, slackUserID)
	if err != nil {
		if err == ErrUserNotFound {
			return false, nil
		}
		return false, err
	}
	return u.IsAdmin, nil
}

// SetAdmin updates the admin flag for a user.
func (s *Store) SetAdmin(ctx context.Context, slackUserID string, isAdmin bool) error {
	return s.updateUserFlag(ctx, "is_admin", slackUserID, isAdmin)
}

// SetBotherable updates whether the user may be bothered.
func (s *Store) SetBotherable(ctx context.Context, slackUserID string, botherable bool) error {
	return s.updateUserFlag(ctx, "botherable", slackUserID, botherable)
}

func (s *Store) updateUserFlag(ctx context.Context, column, slackUserID string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// column is a compile-time constant from the two callers above.
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE users SET %s = ? WHERE slack_user_id = ?", column),
		value, slackUserID)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", slackUserID, err)
	}
	return requireRow(res, ErrUserNotFound)
}

// DeleteUser removes a user and, via cascade, its group memberships.
func (s *Store) DeleteUser(ctx context.Context, slackUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM users WHERE slack_user_id = ?", slackUserID)
	if err != nil {
		return fmt.Errorf("failed to delete user %s: %w", slackUserID, err)
	}
	return requireRow(res, ErrUserNotFound)
}

// RegisterSwitch assigns a switch to a user. Registering a switch another
// user already owns returns ErrSwitchTaken.
func (s *Store) RegisterSwitch(ctx context.Context, slackUserID, switchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx,
		"SELECT slack_user_id FROM users WHERE switch_id = ?", switchID).Scan(&owner)
	switch {
	case err == sql.ErrNoRows:
		// unowned
	case err != nil:
		return fmt.Errorf("failed to check switch owner: %w", err)
	case owner != slackUserID:
		return ErrSwitchTaken
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE users SET switch_id = ? WHERE slack_user_id = ?", switchID, slackUserID)
	if err != nil {
		return fmt.Errorf("failed to register switch: %w", err)
	}
	if err := requireRow(res, ErrUserNotFound); err != nil {
		return err
	}
	return tx.Commit()
}

// GetSwitchOwner returns the user a switch is registered to.
func (s *Store) GetSwitchOwner(ctx context.Context, switchID string) (*Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var o Owner
	err := s.db.QueryRowContext(ctx, `
		SELECT slack_user_id, username, is_admin, botherable
		FROM users WHERE switch_id = ?`, switchID).
		Scan(&o.SlackUserID, &o.Username, &o.IsAdmin, &o.Botherable)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get switch owner: %w", err)
	}
	return &o, nil
}

// --- switches ---

// UpsertSwitch records a discovered switch. New and rediscovered switches
// are marked online with a fresh last_seen timestamp.
func (s *Store) UpsertSwitch(ctx context.Context, switchID string, info *DeviceInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var infoJSON interface{}
	if info != nil {
		data, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("failed to encode device info: %w", err)
		}
		infoJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO switches (switch_id, status, power_state, last_seen, device_info)
		VALUES (?, 'online', 'unknown', ?, ?)
		ON CONFLICT(switch_id) DO UPDATE SET
			status      = 'online',
			last_seen   = excluded.last_seen,
			device_info = excluded.device_info`,
		switchID, time.Now().UTC(), infoJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert switch %s: %w", switchID, err)
	}
	return nil
}

// GetSwitch returns a switch by ID.
func (s *Store) GetSwitch(ctx context.Context, switchID string) (*Switch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT switch_id, status, power_state, last_seen, device_info
		FROM switches WHERE switch_id = ?`, switchID)

	sw, err := scanSwitch(row)
	if err != nil {
		return nil, err
	}
	return sw, nil
}

// ListSwitches returns every known switch ordered by ID.
func (s *Store) ListSwitches(ctx context.Context) ([]Switch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT switch_id, status, power_state, last_seen, device_info
		FROM switches ORDER BY switch_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list switches: %w", err)
	}
	defer rows.Close()

	var switches []Switch
	for rows.Next() {
		sw, err := scanSwitch(rows)
		if err != nil {
			return nil, err
		}
		switches = append(switches, *sw)
	}
	return switches, rows.Err()
}

// ListSwitchesWithOwners returns every switch joined with its owner, if
// any, ordered by switch ID.
func (s *Store) ListSwitchesWithOwners(ctx context.Context) ([]SwitchWithOwner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.switch_id, s.status, s.power_state, s.last_seen, s.device_info,
		       u.slack_user_id, u.username, u.is_admin, u.botherable
		FROM switches s
		LEFT JOIN users u ON u.switch_id = s.switch_id
		ORDER BY s.switch_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list switches with owners: %w", err)
	}
	defer rows.Close()

	var out []SwitchWithOwner
	for rows.Next() {
		var (
			sw       Switch
			lastSeen time.Time
			infoJSON sql.NullString
			ownerID  sql.NullString
			ownerNm  sql.NullString
			ownerAdm sql.NullBool
			ownerBth sql.NullBool
		)
		if err := rows.Scan(&sw.SwitchID, &sw.Status, &sw.PowerState, &lastSeen, &infoJSON,
			&ownerID, &ownerNm, &ownerAdm, &ownerBth); err != nil {
			return nil, fmt.Errorf("failed to scan switch row: %w", err)
		}
		sw.LastSeen = lastSeen
		if sw.DeviceInfo, err = decodeDeviceInfo(infoJSON); err != nil {
			return nil, err
		}

		row := SwitchWithOwner{Switch: sw}
		if ownerID.Valid {
			row.Owner = &Owner{
				SlackUserID: ownerID.String,
				Username:    ownerNm.String,
				IsAdmin:     ownerAdm.Bool,
				Botherable:  ownerBth.Bool,
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SetSwitchStatus updates a switch's online status and last_seen.
func (s *Store) SetSwitchStatus(ctx context.Context, switchID, status string) error {
	if status != StatusOnline && status != StatusOffline {
		return fmt.Errorf("invalid switch status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE switches SET status = ?, last_seen = ? WHERE switch_id = ?",
		status, time.Now().UTC(), switchID)
	if err != nil {
		return fmt.Errorf("failed to set status for switch %s: %w", switchID, err)
	}
	return requireRow(res, ErrSwitchNotFound)
}

// SetSwitchPower updates a switch's power state and last_seen.
func (s *Store) SetSwitchPower(ctx context.Context, switchID, power string) error {
	if power != PowerOn && power != PowerOff && power != PowerUnknown {
		return fmt.Errorf("invalid power state %q", power)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE switches SET power_state = ?, last_seen = ? WHERE switch_id = ?",
		power, time.Now().UTC(), switchID)
	if err != nil {
		return fmt.Errorf("failed to set power for switch %s: %w", switchID, err)
	}
	return requireRow(res, ErrSwitchNotFound)
}

// --- groups ---

// CreateGroup creates a named group. The reserved group cannot be created.
func (s *Store) CreateGroup(ctx context.Context, name string) error {
	if strings.EqualFold(name, ReservedGroup) {
		return ErrReservedGroup
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO groups (group_name, created_at) VALUES (?, ?)",
		name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create group %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrGroupExists
	}
	return nil
}

// DeleteGroup removes a group and its memberships.
func (s *Store) DeleteGroup(ctx context.Context, name string) error {
	if strings.EqualFold(name, ReservedGroup) {
		return ErrReservedGroup
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM groups WHERE group_name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete group %s: %w", name, err)
	}
	return requireRow(res, ErrGroupNotFound)
}

// ListGroups returns stored group names ordered alphabetically, with the
// reserved group appended last.
func (s *Store) ListGroups(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT group_name FROM groups ORDER BY group_name")
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return append(names, ReservedGroup), nil
}

// AddUserToGroup adds a user to a group. Adding an existing member is a
// no-op. The reserved group cannot be given explicit members.
func (s *Store) AddUserToGroup(ctx context.Context, name, slackUserID string) error {
	if strings.EqualFold(name, ReservedGroup) {
		return ErrReservedGroup
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireGroup(ctx, name); err != nil {
		return err
	}
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM users WHERE slack_user_id = ?", slackUserID).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO group_members (group_name, slack_user_id) VALUES (?, ?)",
		name, slackUserID)
	if err != nil {
		return fmt.Errorf("failed to add user to group %s: %w", name, err)
	}
	return nil
}

// RemoveUserFromGroup removes a user from a group. Removing a non-member
// returns ErrNotGroupMember.
func (s *Store) RemoveUserFromGroup(ctx context.Context, name, slackUserID string) error {
	if strings.EqualFold(name, ReservedGroup) {
		return ErrReservedGroup
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireGroup(ctx, name); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM group_members WHERE group_name = ? AND slack_user_id = ?",
		name, slackUserID)
	if err != nil {
		return fmt.Errorf("failed to remove user from group %s: %w", name, err)
	}
	return requireRow(res, ErrNotGroupMember)
}

// GroupMembers returns the users in a group. For the reserved group it
// returns every user with a registered switch.
func (s *Store) GroupMembers(ctx context.Context, name string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if strings.EqualFold(name, ReservedGroup) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT slack_user_id, username, is_admin, botherable, switch_id, created_at
			FROM users
			WHERE switch_id IS NOT NULL AND switch_id != ''
			ORDER BY created_at, slack_user_id`)
		if err != nil {
			return nil, fmt.Errorf("failed to list reserved group members: %w", err)
		}
		defer rows.Close()
		return collectUsers(rows)
	}

	if err := s.requireGroup(ctx, name); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.slack_user_id, u.username, u.is_admin, u.botherable, u.switch_id, u.created_at
		FROM group_members gm
		JOIN users u ON u.slack_user_id = gm.slack_user_id
		WHERE gm.group_name = ?
		ORDER BY u.created_at, u.slack_user_id`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of group %s: %w", name, err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

// --- counts ---

// CountUsers returns the total number of users and how many have a
// registered switch.
func (s *Store) CountUsers(ctx context.Context) (total, registered int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(CASE WHEN switch_id IS NOT NULL AND switch_id != '' THEN 1 END)
		FROM users`).Scan(&total, &registered)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count users: %w", err)
	}
	return total, registered, nil
}

// CountSwitches returns the total number of switches and how many are
// online.
func (s *Store) CountSwitches(ctx context.Context) (total, online int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(CASE WHEN status = 'online' THEN 1 END)
		FROM switches`).Scan(&total, &online)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count switches: %w", err)
	}
	return total, online, nil
}

// --- helpers ---

// requireGroup checks group existence. Callers hold the mutex.
func (s *Store) requireGroup(ctx context.Context, name string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM groups WHERE group_name = ?", name).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrGroupNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check group: %w", err)
	}
	return nil
}

// requireRow converts a zero-row update into the given sentinel error.
func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u        User
		switchID sql.NullString
	)
	err := row.Scan(&u.SlackUserID, &u.Username, &u.IsAdmin, &u.Botherable,
		&switchID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.SwitchID = switchID.String
	return &u, nil
}

func collectUsers(rows *sql.Rows) ([]User, error) {
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func scanSwitch(row rowScanner) (*Switch, error) {
	var (
		sw       Switch
		infoJSON sql.NullString
	)
	err := row.Scan(&sw.SwitchID, &sw.Status, &sw.PowerState, &sw.LastSeen, &infoJSON)
	if err == sql.ErrNoRows {
		return nil, ErrSwitchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan switch: %w", err)
	}
	info, err := decodeDeviceInfo(infoJSON)
	if err != nil {
		return nil, err
	}
	sw.DeviceInfo = info
	return &sw, nil
}

func decodeDeviceInfo(col sql.NullString) (*DeviceInfo, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var info DeviceInfo
	if err := json.Unmarshal([]byte(col.String), &info); err != nil {
		return nil, fmt.Errorf("failed to decode device info: %w", err)
	}
	return &info, nil
}
