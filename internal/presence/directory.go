package presence

import "sync"

// Directory maps a durable user identity to its single most recent live
// connection. It performs no I/O and never blocks.
type Directory struct {
	mu           sync.RWMutex
	byIdentity   map[string]string
	byConnection map[string]string
}

// NewDirectory constructs an empty online-identity directory.
func NewDirectory() *Directory {
	return &Directory{
		byIdentity:   make(map[string]string),
		byConnection: make(map[string]string),
	}
}

// Register binds the identity to the connection. A newer connection for the
// same identity overwrites the previous one (last-connect-wins).
func (d *Directory) Register(identity, connectionID string) {
	if identity == "" || connectionID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if previous, ok := d.byIdentity[identity]; ok {
		delete(d.byConnection, previous)
	}
	d.byIdentity[identity] = connectionID
	d.byConnection[connectionID] = identity
}

// Resolve returns the live connection for the identity, if any.
func (d *Directory) Resolve(identity string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	connectionID, ok := d.byIdentity[identity]
	return connectionID, ok
}

// IdentityFor returns the durable identity bound to a connection, if any.
func (d *Directory) IdentityFor(connectionID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	identity, ok := d.byConnection[connectionID]
	return identity, ok
}

// Unregister removes the identity entry only if it still points at the given
// connection, so a stale disconnect cannot evict a newer connection.
func (d *Directory) Unregister(identity, connectionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	current, ok := d.byIdentity[identity]
	if !ok || current != connectionID {
		return
	}
	delete(d.byIdentity, identity)
	delete(d.byConnection, connectionID)
}
