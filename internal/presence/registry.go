package presence

import (
	"sort"
	"sync"
	"time"

	"fleet-dispatch/internal/geo"
)

// Role distinguishes driver devices from dispatch dashboards.
type Role string

const (
	RoleDriver    Role = "driver"
	RoleDashboard Role = "dashboard"
)

// StatusOnlineFree mirrors the driver profile status that makes a session
// eligible for auto-assignment.
const StatusOnlineFree = "online_free"

// Identity is the authenticated principal behind a connection.
type Identity struct {
	UserID   string `json:"user_id"`
	DriverID string `json:"driver_id,omitempty"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

// Session is the ephemeral record of one realtime connection.
type Session struct {
	ConnID      string      `json:"conn_id"`
	Identity    Identity    `json:"identity"`
	Location    *geo.Sample `json:"location,omitempty"`
	Status      string      `json:"status"`
	ConnectedAt time.Time   `json:"connected_at"`
}

// Candidate is a dispatchable driver as seen by a snapshot.
type Candidate struct {
	DriverID string
	Location geo.Sample
}

// Registry tracks connected sessions keyed by connection id. Every method is
// safe for concurrent use and snapshots never expose a half-updated entry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session), now: time.Now}
}

// Register adds a session for connID, replacing any previous entry.
func (r *Registry) Register(connID string, id Identity, status string) {
	r.mu.Lock()
	r.sessions[connID] = &Session{ConnID: connID, Identity: id, Status: status, ConnectedAt: r.now()}
	r.mu.Unlock()
}

// UpdateLocation stores the latest sample for connID. An empty status keeps
// the cached one. Unknown connections are ignored and report false.
func (r *Registry) UpdateLocation(connID string, s geo.Sample, status string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[connID]
	if !ok {
		return false
	}
	loc := s
	sess.Location = &loc
	if status != "" {
		sess.Status = status
	}
	return true
}

// UpdateDriverLocation applies a sample to every session of driverID and
// returns how many were touched.
func (r *Registry) UpdateDriverLocation(driverID string, s geo.Sample) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sess := range r.sessions {
		if sess.Identity.Role == RoleDriver && sess.Identity.DriverID == driverID {
			loc := s
			sess.Location = &loc
			n++
		}
	}
	return n
}

// SetDriverStatus updates the cached status of every session of driverID.
func (r *Registry) SetDriverStatus(driverID, status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sess := range r.sessions {
		if sess.Identity.Role == RoleDriver && sess.Identity.DriverID == driverID {
			sess.Status = status
			n++
		}
	}
	return n
}

// SnapshotOnlineFreeDrivers returns every driver session that is online_free
// and has reported a location, ordered by driver id.
func (r *Registry) SnapshotOnlineFreeDrivers() []Candidate {
	r.mu.RLock()
	out := make([]Candidate, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if sess.Identity.Role != RoleDriver || sess.Status != StatusOnlineFree || sess.Location == nil {
			continue
		}
		out = append(out, Candidate{DriverID: sess.Identity.DriverID, Location: *sess.Location})
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out
}

// AllDriverLocations returns copies of every driver session with a known
// location, used to resync dashboards.
func (r *Registry) AllDriverLocations() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if sess.Identity.Role != RoleDriver || sess.Location == nil {
			continue
		}
		out = append(out, copySession(sess))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity.DriverID == out[j].Identity.DriverID {
			return out[i].ConnID < out[j].ConnID
		}
		return out[i].Identity.DriverID < out[j].Identity.DriverID
	})
	return out
}

// Get returns a copy of the session for connID.
func (r *Registry) Get(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return copySession(sess), true
}

// DriverConnected reports whether driverID has at least one live session.
func (r *Registry) DriverConnected(driverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sess := range r.sessions {
		if sess.Identity.Role == RoleDriver && sess.Identity.DriverID == driverID {
			return true
		}
	}
	return false
}

// Remove deletes the session for connID and returns it. Removing an unknown
// connection is a no-op.
func (r *Registry) Remove(connID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, connID)
	return copySession(sess), true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func copySession(s *Session) Session {
	c := *s
	if s.Location != nil {
		loc := *s.Location
		c.Location = &loc
	}
	return c
}
