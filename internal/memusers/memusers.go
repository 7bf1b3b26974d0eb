// Package memusers is an in-memory user directory for local runs and tests.
package memusers

import (
	"context"
	"strings"
	"sync"

	"github.com/MrEthical07/crowdauth"
)

var (
	_ crowdauth.UserProvider    = (*Directory)(nil)
	_ crowdauth.UserCreator     = (*Directory)(nil)
	_ crowdauth.PasswordUpdater = (*Directory)(nil)
)

// Directory keeps users by subject and by lower-cased identifier.
type Directory struct {
	mu      sync.RWMutex
	byID    map[string]crowdauth.UserRecord
	byIdent map[string]string
	nextID  int64
}

func New() *Directory {
	return &Directory{
		byID:    make(map[string]crowdauth.UserRecord),
		byIdent: make(map[string]string),
	}
}

// Put inserts or replaces u and assigns a public id when it has none.
func (d *Directory) Put(u crowdauth.UserRecord) crowdauth.UserRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.putLocked(u)
}

func (d *Directory) putLocked(u crowdauth.UserRecord) crowdauth.UserRecord {
	if u.PublicID == 0 {
		d.nextID++
		u.PublicID = d.nextID
	}
	if prev, ok := d.byID[u.Subject]; ok {
		delete(d.byIdent, identKey(prev.Identifier))
	}
	d.byID[u.Subject] = u
	d.byIdent[identKey(u.Identifier)] = u.Subject
	return u
}

func (d *Directory) GetUserByIdentifier(_ context.Context, identifier string) (*crowdauth.UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byIdent[identKey(identifier)]
	if !ok {
		return nil, crowdauth.ErrUserNotFound
	}
	u, ok := d.byID[id]
	if !ok {
		return nil, crowdauth.ErrUserNotFound
	}
	return &u, nil
}

func (d *Directory) GetUserByID(_ context.Context, subject string) (*crowdauth.UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.byID[subject]
	if !ok {
		return nil, crowdauth.ErrUserNotFound
	}
	return &u, nil
}

func (d *Directory) CreateUser(_ context.Context, u crowdauth.UserRecord) (*crowdauth.UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.byIdent[identKey(u.Identifier)]; taken {
		return nil, crowdauth.ErrAccountExists
	}
	if _, taken := d.byID[u.Subject]; taken {
		return nil, crowdauth.ErrAccountExists
	}
	u.PublicID = 0
	created := d.putLocked(u)
	return &created, nil
}

func (d *Directory) UpdatePasswordHash(_ context.Context, subject, encodedHash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.byID[subject]
	if !ok {
		return crowdauth.ErrUserNotFound
	}
	u.PasswordHash = encodedHash
	d.byID[subject] = u
	return nil
}

// Len reports how many users are stored.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

func identKey(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
