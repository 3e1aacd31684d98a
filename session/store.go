// Package session is the single source of truth for the local HRM portal
// session: the access/refresh token pair, the user's role and display name,
// and the login timestamp used for absolute-age expiry.
//
// All reads and writes of the persisted session go through Store; nothing
// else in the program touches the session file.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// AgeCeiling is the absolute session lifetime. A session older than this is
// torn down regardless of token validity.
const AgeCeiling = 12 * time.Hour

// ErrNoSession indicates that no usable session is stored (never logged in,
// or logged out).
var ErrNoSession = errors.New("no stored session")

// Snapshot is the persisted session state. The JSON keys are the portal's
// storage schema; an absent file or zero-value fields mean "logged out".
type Snapshot struct {
	Access    string `json:"access"`
	Refresh   string `json:"refresh"`
	Role      string `json:"role"`
	UserName  string `json:"userName"`
	LoginTime int64  `json:"loginTime"` // epoch milliseconds, 0 when logged out
}

// Authenticated reports whether the snapshot carries an access token.
func (sn Snapshot) Authenticated() bool {
	return sn.Access != ""
}

// ExpiredByAge reports whether the session's absolute age exceeds ceiling.
// A zero LoginTime never expires (there is nothing to expire).
func (sn Snapshot) ExpiredByAge(now time.Time, ceiling time.Duration) bool {
	return sn.LoginTime != 0 && now.UnixMilli()-sn.LoginTime > ceiling.Milliseconds()
}

// Store persists the session snapshot to a single JSON file. Writes are
// coordinated with a lock file and performed atomically (temp file + rename)
// so concurrent CLI invocations cannot interleave partial writes.
type Store struct {
	path string
	now  func() time.Time
}

// NewStore creates a Store backed by the file at path. The file does not
// need to exist; a missing file is the valid logged-out state.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the session file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the current snapshot. A missing file yields a zero Snapshot
// and no error; a corrupt file is an error.
func (s *Store) Get() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("failed to read session file: %w", err)
	}

	var sn Snapshot
	if err := json.Unmarshal(data, &sn); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse session file: %w", err)
	}
	return sn, nil
}

// Set records a freshly authenticated session: all four identity fields plus
// the login timestamp, which starts the absolute-age clock.
func (s *Store) Set(access, refresh, role, userName string) error {
	sn := Snapshot{
		Access:    access,
		Refresh:   refresh,
		Role:      role,
		UserName:  userName,
		LoginTime: s.now().UnixMilli(),
	}
	return s.persist(sn)
}

// UpdateAccessToken overwrites the access token and, when the server rotated
// it, the refresh token. Role, user name and login timestamp are untouched.
// Both token fields land in one persisted write; there is no intermediate
// state holding only one of them.
func (s *Store) UpdateAccessToken(newAccess, newRefresh string) error {
	lock, err := acquireLock(s.path)
	if err != nil {
		return fmt.Errorf("failed to acquire session lock: %w", err)
	}
	defer func() {
		if relErr := lock.release(); relErr != nil {
			fmt.Fprintf(os.Stderr, "failed to release session lock: %v\n", relErr)
		}
	}()

	sn, err := s.Get()
	if err != nil {
		return err
	}
	sn.Access = newAccess
	if newRefresh != "" {
		sn.Refresh = newRefresh
	}
	return s.write(sn)
}

// Clear wipes the persisted session. Clearing an already-empty session is a
// no-op.
func (s *Store) Clear() error {
	lock, err := acquireLock(s.path)
	if err != nil {
		return fmt.Errorf("failed to acquire session lock: %w", err)
	}
	defer func() {
		if relErr := lock.release(); relErr != nil {
			fmt.Fprintf(os.Stderr, "failed to release session lock: %v\n", relErr)
		}
	}()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear session file: %w", err)
	}
	return nil
}

// persist writes sn under the file lock.
func (s *Store) persist(sn Snapshot) error {
	lock, err := acquireLock(s.path)
	if err != nil {
		return fmt.Errorf("failed to acquire session lock: %w", err)
	}
	defer func() {
		if relErr := lock.release(); relErr != nil {
			fmt.Fprintf(os.Stderr, "failed to release session lock: %v\n", relErr)
		}
	}()

	return s.write(sn)
}

// write marshals sn and replaces the session file atomically. Callers must
// hold the file lock.
func (s *Store) write(sn Snapshot) error {
	data, err := json.MarshalIndent(sn, "", "  ")
	if err != nil {
		return err
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp session file: %w", err)
	}

	if err := os.Rename(tempFile, s.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp session file: %v; additionally failed to remove it: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp session file: %w", err)
	}
	return nil
}
