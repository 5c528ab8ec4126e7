// Package testutils provides in-memory implementations of the store
// interfaces with fault injection, plus a container-backed environment for
// integration tests.
package testutils

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Siddarth2230/url-shortener/internal/models"
)

func run(ctx context.Context, f *Faults, op string) error {
	d, err := f.check(op)
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func copyLink(l *models.ShortLink) *models.ShortLink {
	c := *l
	if l.PasswordHash != nil {
		h := *l.PasswordHash
		c.PasswordHash = &h
	}
	return &c
}

// AliasStore is an in-memory ByAlias projection.
type AliasStore struct {
	Faults
	mu    sync.RWMutex
	links map[string]*models.ShortLink
}

func NewAliasStore() *AliasStore {
	return &AliasStore{links: make(map[string]*models.ShortLink)}
}

func (s *AliasStore) Insert(ctx context.Context, link *models.ShortLink) error {
	if err := run(ctx, &s.Faults, "insert"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[link.Alias]; ok {
		return models.ErrAliasCollision
	}
	s.links[link.Alias] = copyLink(link)
	return nil
}

func (s *AliasStore) Get(ctx context.Context, alias string) (*models.ShortLink, error) {
	if err := run(ctx, &s.Faults, "get"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[alias]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyLink(l), nil
}

func (s *AliasStore) Update(ctx context.Context, alias string, patch models.LinkPatch) (*models.ShortLink, error) {
	if err := run(ctx, &s.Faults, "update"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[alias]
	if !ok {
		return nil, models.ErrNotFound
	}
	l.Apply(patch)
	l.Version++
	return copyLink(l), nil
}

// Put seeds a link without faults.
func (s *AliasStore) Put(link *models.ShortLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.Alias] = copyLink(link)
}

// OwnerStore is an in-memory ByOwner projection.
type OwnerStore struct {
	Faults
	mu    sync.RWMutex
	links map[int64]map[string]*models.ShortLink
}

func NewOwnerStore() *OwnerStore {
	return &OwnerStore{links: make(map[int64]map[string]*models.ShortLink)}
}

func (s *OwnerStore) Upsert(ctx context.Context, link *models.ShortLink) error {
	if err := run(ctx, &s.Faults, "upsert"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.links[link.OwnerID]
	if !ok {
		m = make(map[string]*models.ShortLink)
		s.links[link.OwnerID] = m
	}
	if cur, ok := m[link.Alias]; ok && cur.Version >= link.Version {
		return nil
	}
	m[link.Alias] = copyLink(link)
	return nil
}

func (s *OwnerStore) Get(ctx context.Context, ownerID int64, alias string) (*models.ShortLink, error) {
	if err := run(ctx, &s.Faults, "get"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[ownerID][alias]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyLink(l), nil
}

func (s *OwnerStore) List(ctx context.Context, ownerID int64, limit, offset int) ([]models.ShortLink, error) {
	if err := run(ctx, &s.Faults, "list"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]models.ShortLink, 0, len(s.links[ownerID]))
	for _, l := range s.links[ownerID] {
		out = append(out, *copyLink(l))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Alias < out[j].Alias
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Outbox is an in-memory reconcile outbox keyed by (op, alias).
type Outbox struct {
	Faults
	mu    sync.Mutex
	tasks map[string]models.ReconcileTask
}

func NewOutbox() *Outbox {
	return &Outbox{tasks: make(map[string]models.ReconcileTask)}
}

func outboxKey(op models.ReconcileOp, alias string) string { return string(op) + "/" + alias }

func (o *Outbox) Enqueue(ctx context.Context, task models.ReconcileTask) error {
	if err := run(ctx, &o.Faults, "enqueue"); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	k := outboxKey(task.Op, task.Alias)
	if existing, ok := o.tasks[k]; ok {
		existing.NextRunAt = task.NextRunAt
		existing.LastError = task.LastError
		o.tasks[k] = existing
		return nil
	}
	task.ID = k
	task.CreatedAt = task.NextRunAt
	o.tasks[k] = task
	return nil
}

func (o *Outbox) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.ReconcileTask, error) {
	if err := run(ctx, &o.Faults, "claim"); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []models.ReconcileTask
	for k, t := range o.tasks {
		if len(out) >= limit {
			break
		}
		if t.NextRunAt.After(now) {
			continue
		}
		t.NextRunAt = now.Add(lease)
		o.tasks[k] = t
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (o *Outbox) Done(ctx context.Context, task models.ReconcileTask) error {
	if err := run(ctx, &o.Faults, "done"); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.tasks[task.ID]; ok && t.NextRunAt.Equal(task.NextRunAt) {
		delete(o.tasks, task.ID)
	}
	return nil
}

func (o *Outbox) Reschedule(ctx context.Context, task models.ReconcileTask, next time.Time, cause error) error {
	if err := run(ctx, &o.Faults, "reschedule"); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[task.ID]
	if !ok || !t.NextRunAt.Equal(task.NextRunAt) {
		return nil
	}
	t.Attempts++
	t.NextRunAt = next
	if cause != nil {
		t.LastError = cause.Error()
	}
	o.tasks[task.ID] = t
	return nil
}

func (o *Outbox) Pending(ctx context.Context) (int64, error) {
	if err := run(ctx, &o.Faults, "pending"); err != nil {
		return 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return int64(len(o.tasks)), nil
}

// Tasks returns a snapshot of queued tasks.
func (o *Outbox) Tasks() []models.ReconcileTask {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.ReconcileTask, 0, len(o.tasks))
	for _, t := range o.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CounterStore is an in-memory durable click counter.
type CounterStore struct {
	Faults
	mu     sync.Mutex
	totals map[string]int64
}

func NewCounterStore() *CounterStore {
	return &CounterStore{totals: make(map[string]int64)}
}

func (s *CounterStore) Increment(ctx context.Context, alias string, delta int64) error {
	if err := run(ctx, &s.Faults, "increment"); err != nil {
		return err
	}
	if delta <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals[alias] += delta
	return nil
}

func (s *CounterStore) Total(ctx context.Context, alias string) (int64, error) {
	if err := run(ctx, &s.Faults, "total"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[alias], nil
}

func (s *CounterStore) Totals(ctx context.Context, aliases []string) (map[string]int64, error) {
	if err := run(ctx, &s.Faults, "totals"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(aliases))
	for _, a := range aliases {
		if v, ok := s.totals[a]; ok {
			out[a] = v
		}
	}
	return out, nil
}

// SessionStore is an in-memory durable session store.
type SessionStore struct {
	Faults
	mu       sync.Mutex
	sessions map[string]models.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]models.Session)}
}

func (s *SessionStore) Create(ctx context.Context, sess *models.Session) error {
	if err := run(ctx, &s.Faults, "create"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = *sess
	return nil
}

func (s *SessionStore) Get(ctx context.Context, token string) (*models.Session, error) {
	if err := run(ctx, &s.Faults, "get"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return &sess, nil
}

func (s *SessionStore) Touch(ctx context.Context, token string, at time.Time) (bool, error) {
	if err := run(ctx, &s.Faults, "touch"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return false, nil
	}
	if at.After(sess.LastActiveAt) {
		sess.LastActiveAt = at
	}
	s.sessions[token] = sess
	return true, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if err := run(ctx, &s.Faults, "delete"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID int64) ([]string, error) {
	if err := run(ctx, &s.Faults, "delete_by_user"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var tokens []string
	for tok, sess := range s.sessions {
		if sess.UserID == userID {
			tokens = append(tokens, tok)
			delete(s.sessions, tok)
		}
	}
	return tokens, nil
}

// Has reports whether token is stored.
func (s *SessionStore) Has(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[token]
	return ok
}
