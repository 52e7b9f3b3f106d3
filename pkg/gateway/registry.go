package gateway

import (
	"encoding/json"
	"hash/fnv"
	"iter"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/gateway/pkg/auth"
	"github.com/vango-dev/gateway/pkg/protocol"
)

// entry is the resumable part of a session. It outlives connections.
type entry struct {
	id        string
	principal auth.Principal
	log       *DispatchLog
	createdAt time.Time

	mu         sync.Mutex // Serializes dispatch, resume and detach
	current    *Session   // Attached connection, nil while detached
	detachedAt time.Time
	groups     map[string]struct{}
	purged     bool
}

// dispatch appends ev to the log and queues it to the attached connection.
func (e *entry) dispatch(codec *protocol.Codec, ev Event) (Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dispatchLocked(codec, ev)
}

func (e *entry) dispatchLocked(codec *protocol.Codec, ev Event) (Event, error) {
	if e.purged {
		return Event{}, ErrSessionNotFound
	}
	stored, err := e.log.append(ev, func(ev *Event) error {
		frame, err := codec.Encode(&protocol.Dispatch{Seq: ev.Seq, Type: ev.Type, Data: ev.Data})
		if err != nil {
			return err
		}
		ev.frame = frame
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	if e.current != nil {
		e.current.deliver(stored)
	}
	return stored, nil
}

// resume attaches s, queues the replay of (lastSeq, max] and RESUMED.
// It returns the connection s superseded, if any.
func (e *entry) resume(codec *protocol.Codec, s *Session, lastSeq uint64) (old *Session, replayed int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.purged {
		return nil, 0, ErrSessionNotFound
	}
	if !e.log.Covers(lastSeq) {
		return nil, 0, ErrSequenceOutOfRange
	}

	old = e.current
	e.current = s
	e.detachedAt = time.Time{}
	s.attach(e)

	for ev := range e.log.ReplayFrom(lastSeq) {
		s.deliver(ev)
		replayed++
	}

	data, err := json.Marshal(protocol.Resumed{SessionID: e.id, Replayed: replayed})
	if err != nil {
		return old, replayed, err
	}
	if _, err := e.dispatchLocked(codec, Event{Type: protocol.EventResumed, Data: data}); err != nil {
		return old, replayed, err
	}
	s.setState(StateActive)
	return old, replayed, nil
}

// detach marks the entry detached if s is still its connection.
func (e *entry) detach(s *Session, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != s {
		return false
	}
	e.current = nil
	e.detachedAt = now
	return true
}

// expired reports whether the entry has been detached longer than window.
func (e *entry) expired(now time.Time, window time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current == nil && !e.detachedAt.IsZero() && now.Sub(e.detachedAt) > window
}

func (e *entry) snapshot() SessionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	info := SessionInfo{
		ID:         e.id,
		UserID:     e.principal.ID,
		CreatedAt:  e.createdAt,
		DetachedAt: e.detachedAt,
		Connected:  e.current != nil,
		MaxSeq:     e.log.MaxSeq(),
	}
	for g := range e.groups {
		info.Groups = append(info.Groups, g)
	}
	return info
}

// SessionInfo is a point-in-time view of a registered session.
type SessionInfo struct {
	ID         string
	UserID     string
	Groups     []string
	CreatedAt  time.Time
	DetachedAt time.Time
	Connected  bool
	MaxSeq     uint64
}

// RegistryStats contains registry statistics.
type RegistryStats struct {
	Sessions int   `json:"sessions"` // Registered sessions
	Active   int   `json:"active"`   // Sessions with a connection
	Detached int   `json:"detached"` // Sessions waiting to be resumed
	Created  int64 `json:"created"`  // Total sessions ever created
	Peak     int64 `json:"peak"`     // Highest concurrent session count
}

type registryShard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Registry maps session IDs to resumable sessions and indexes them by user
// and group. Sessions are spread over shards so unrelated sessions never
// contend on a lock.
type Registry struct {
	shards  []*registryShard
	codec   *protocol.Codec
	logSize int
	window  time.Duration
	now     func() time.Time
	logger  *slog.Logger

	idxMu   sync.RWMutex
	byUser  map[string]map[*entry]struct{}
	byGroup map[string]map[*entry]struct{}

	count   atomic.Int64
	created atomic.Int64
	peak    atomic.Int64

	onPurge func(SessionInfo)

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRegistry creates a registry and starts its cleanup loop.
// Call Close to stop it.
func NewRegistry(cfg *Config, logger *slog.Logger) *Registry {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	shards := cfg.Shards
	if shards < 1 {
		shards = 1
	}
	r := &Registry{
		shards:  make([]*registryShard, shards),
		codec:   protocol.DefaultCodec,
		logSize: cfg.DispatchLogSize,
		window:  cfg.ResumeWindow,
		now:     time.Now,
		logger:  logger.With("component", "registry"),
		byUser:  make(map[string]map[*entry]struct{}),
		byGroup: make(map[string]map[*entry]struct{}),
		onPurge: func(SessionInfo) {},
		done:    make(chan struct{}),
	}
	for i := range r.shards {
		r.shards[i] = &registryShard{entries: make(map[string]*entry)}
	}

	r.wg.Add(1)
	go r.cleanupLoop(cfg.CleanupInterval)
	return r
}

func (r *Registry) shard(id string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// newEntry builds an unregistered session entry.
func (r *Registry) newEntry(id string, p auth.Principal) *entry {
	e := &entry{
		id:        id,
		principal: p,
		log:       NewDispatchLog(r.logSize),
		createdAt: r.now(),
		groups:    make(map[string]struct{}, len(p.Groups)),
	}
	e.log.now = r.now
	for _, g := range p.Groups {
		e.groups[g] = struct{}{}
	}
	return e
}

// register makes e visible to lookups and targeted dispatch.
func (r *Registry) register(e *entry) {
	sh := r.shard(e.id)
	sh.mu.Lock()
	sh.entries[e.id] = e
	sh.mu.Unlock()

	r.idxMu.Lock()
	addIndex(r.byUser, e.principal.ID, e)
	e.mu.Lock()
	for g := range e.groups {
		addIndex(r.byGroup, g, e)
	}
	e.mu.Unlock()
	r.idxMu.Unlock()

	r.created.Add(1)
	n := r.count.Add(1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}
}

func (r *Registry) lookup(id string) (*entry, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()
	return e, ok
}

// Lookup returns a snapshot of the session with the given ID.
func (r *Registry) Lookup(sessionID string) (SessionInfo, bool) {
	e, ok := r.lookup(sessionID)
	if !ok {
		return SessionInfo{}, false
	}
	return e.snapshot(), true
}

// Append records ev in the session's dispatch log and delivers it if the
// session is connected. It returns the assigned sequence number.
func (r *Registry) Append(sessionID string, ev Event) (uint64, error) {
	e, ok := r.lookup(sessionID)
	if !ok {
		return 0, NewSessionError(sessionID, "append", ErrSessionNotFound)
	}
	stored, err := e.dispatch(r.codec, ev)
	if err != nil {
		return 0, NewSessionError(sessionID, "append", err)
	}
	return stored.Seq, nil
}

// ReplayFrom returns the session's dispatches after afterSeq.
func (r *Registry) ReplayFrom(sessionID string, afterSeq uint64) (iter.Seq[Event], error) {
	e, ok := r.lookup(sessionID)
	if !ok {
		return nil, NewSessionError(sessionID, "replay", ErrSessionNotFound)
	}
	if !e.log.Covers(afterSeq) {
		return nil, NewSessionError(sessionID, "replay", ErrSequenceOutOfRange)
	}
	return e.log.ReplayFrom(afterSeq), nil
}

// Subscribe adds the session to group.
func (r *Registry) Subscribe(sessionID, group string) error {
	e, ok := r.lookup(sessionID)
	if !ok {
		return NewSessionError(sessionID, "subscribe", ErrSessionNotFound)
	}
	r.idxMu.Lock()
	defer r.idxMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.purged {
		return NewSessionError(sessionID, "subscribe", ErrSessionNotFound)
	}
	e.groups[group] = struct{}{}
	addIndex(r.byGroup, group, e)
	return nil
}

// Unsubscribe removes the session from group.
func (r *Registry) Unsubscribe(sessionID, group string) error {
	e, ok := r.lookup(sessionID)
	if !ok {
		return NewSessionError(sessionID, "unsubscribe", ErrSessionNotFound)
	}
	r.idxMu.Lock()
	defer r.idxMu.Unlock()
	e.mu.Lock()
	delete(e.groups, group)
	e.mu.Unlock()
	removeIndex(r.byGroup, group, e)
	return nil
}

// resolve returns the entries a target addresses.
func (r *Registry) resolve(t Target) []*entry {
	switch t.Kind {
	case TargetSession:
		if e, ok := r.lookup(t.ID); ok {
			return []*entry{e}
		}
		return nil
	case TargetUser:
		return r.indexed(r.byUser, t.ID)
	case TargetGroup:
		return r.indexed(r.byGroup, t.ID)
	case TargetAll:
		var out []*entry
		for _, sh := range r.shards {
			sh.mu.RLock()
			for _, e := range sh.entries {
				out = append(out, e)
			}
			sh.mu.RUnlock()
		}
		return out
	default:
		return nil
	}
}

func (r *Registry) indexed(idx map[string]map[*entry]struct{}, key string) []*entry {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()
	set := idx[key]
	out := make([]*entry, 0, len(set))
	for e := range maps.Keys(set) {
		out = append(out, e)
	}
	return out
}

// Purge removes a session immediately.
func (r *Registry) Purge(sessionID string) bool {
	e, ok := r.lookup(sessionID)
	if !ok {
		return false
	}
	r.remove(e)
	return true
}

func (r *Registry) remove(e *entry) {
	e.mu.Lock()
	if e.purged {
		e.mu.Unlock()
		return
	}
	e.purged = true
	current := e.current
	e.mu.Unlock()

	if current != nil {
		current.fail(ErrSessionNotFound)
	}

	sh := r.shard(e.id)
	sh.mu.Lock()
	delete(sh.entries, e.id)
	sh.mu.Unlock()

	r.idxMu.Lock()
	removeIndex(r.byUser, e.principal.ID, e)
	for g := range e.groups {
		removeIndex(r.byGroup, g, e)
	}
	r.idxMu.Unlock()

	r.count.Add(-1)
	r.onPurge(e.snapshot())
}

// cleanupLoop periodically purges sessions past their resume window.
func (r *Registry) cleanupLoop(interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanupExpired()
		case <-r.done:
			return
		}
	}
}

// cleanupExpired purges every detached session past the resume window.
func (r *Registry) cleanupExpired() int {
	now := r.now()
	var expired []*entry
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			if e.expired(now, r.window) {
				expired = append(expired, e)
			}
		}
		sh.mu.RUnlock()
	}

	for _, e := range expired {
		r.remove(e)
		r.logger.Debug("session expired", "session_id", e.id)
	}
	if len(expired) > 0 {
		r.logger.Info("cleaned up expired sessions", "count", len(expired))
	}
	return len(expired)
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// ForEach calls fn for a snapshot of every session until fn returns false.
func (r *Registry) ForEach(fn func(SessionInfo) bool) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		entries := make([]*entry, 0, len(sh.entries))
		for _, e := range sh.entries {
			entries = append(entries, e)
		}
		sh.mu.RUnlock()

		for _, e := range entries {
			if !fn(e.snapshot()) {
				return
			}
		}
	}
}

// Stats returns registry statistics.
func (r *Registry) Stats() RegistryStats {
	stats := RegistryStats{
		Created: r.created.Load(),
		Peak:    r.peak.Load(),
	}
	r.ForEach(func(info SessionInfo) bool {
		stats.Sessions++
		if info.Connected {
			stats.Active++
		} else {
			stats.Detached++
		}
		return true
	})
	return stats
}

// Close stops the cleanup loop.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

func addIndex(idx map[string]map[*entry]struct{}, key string, e *entry) {
	set, ok := idx[key]
	if !ok {
		set = make(map[*entry]struct{})
		idx[key] = set
	}
	set[e] = struct{}{}
}

func removeIndex(idx map[string]map[*entry]struct{}, key string, e *entry) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, e)
	if len(set) == 0 {
		delete(idx, key)
	}
}
