package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"leadhero/pkg/domain"
)

type leadKey struct {
	formID string
	email  string
}

// MemoryStore keeps everything in-process. It enforces the same (form, email)
// uniqueness and atomic counter semantics as GormStore.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // key: user ID
	emails   map[string]string      // email -> user ID
	forms    map[string]domain.Form
	content  map[string]map[string]string // form ID -> key -> value
	settings map[string]string
	leads    map[string]domain.Lead // key: lead ID
	leadIdx  map[leadKey]string     // (form, email) -> lead ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		emails:   make(map[string]string),
		forms:    make(map[string]domain.Form),
		content:  make(map[string]map[string]string),
		settings: make(map[string]string),
		leads:    make(map[string]domain.Lead),
		leadIdx:  make(map[leadKey]string),
	}
}

func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[u.ID]; ok && prev.Email != u.Email {
		delete(m.emails, prev.Email)
	}
	m.users[u.ID] = u
	m.emails[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) UserCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *MemoryStore) ListUserSummaries(_ context.Context) ([]domain.UserSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.UserSummary, 0, len(m.users))
	for _, u := range m.users {
		sum := domain.UserSummary{User: u}
		for _, f := range m.forms {
			if f.OwnerID == u.ID {
				sum.FormCount++
				sum.LeadCount += f.LeadCount
			}
		}
		res = append(res, sum)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) CreateForm(_ context.Context, f domain.Form, content []domain.FormContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forms[f.ID] = f
	values := make(map[string]string, len(content))
	for _, c := range content {
		values[c.Key] = c.Value
	}
	m.content[f.ID] = values
	return nil
}

func (m *MemoryStore) UpdateForm(_ context.Context, f domain.Form) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.forms[f.ID]
	if !ok {
		return nil
	}
	cur.Name = f.Name
	cur.IsActive = f.IsActive
	cur.UpdatedAt = time.Now().UTC()
	m.forms[f.ID] = cur
	return nil
}

func (m *MemoryStore) GetForm(_ context.Context, id string) (domain.Form, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.forms[id]
	return f, ok, nil
}

func (m *MemoryStore) ListFormsByOwner(_ context.Context, ownerID string) ([]domain.Form, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Form
	for _, f := range m.forms {
		if f.OwnerID == ownerID {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) CountFormsByOwner(ctx context.Context, ownerID string) (int, error) {
	forms, err := m.ListFormsByOwner(ctx, ownerID)
	return len(forms), err
}

func (m *MemoryStore) IncrementLeadCount(_ context.Context, formID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.forms[formID]
	if !ok {
		return ErrFormMissing
	}
	f.LeadCount++
	m.forms[formID] = f
	return nil
}

func (m *MemoryStore) SumLeadCounts(_ context.Context, ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, f := range m.forms {
		if f.OwnerID == ownerID {
			total += f.LeadCount
		}
	}
	return total, nil
}

func (m *MemoryStore) ReconcileLeadCounts(_ context.Context, formID string, dryRun bool) ([]CounterCorrection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	actual := make(map[string]int)
	for _, l := range m.leads {
		if l.Origin == domain.OriginVisitor || l.Origin == "" {
			actual[l.FormID]++
		}
	}
	ids := make([]string, 0, len(m.forms))
	for id := range m.forms {
		if formID == "" || id == formID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var corrections []CounterCorrection
	for _, id := range ids {
		f := m.forms[id]
		if actual[id] == f.LeadCount {
			continue
		}
		corrections = append(corrections, CounterCorrection{FormID: id, Before: f.LeadCount, After: actual[id]})
		if !dryRun {
			f.LeadCount = actual[id]
			m.forms[id] = f
		}
	}
	return corrections, nil
}

func (m *MemoryStore) ListFormContent(_ context.Context, formID string) ([]domain.FormContent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	values := m.content[formID]
	res := make([]domain.FormContent, 0, len(values))
	for k, v := range values {
		res = append(res, domain.FormContent{FormID: formID, Key: k, Value: v})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Key < res[j].Key })
	return res, nil
}

func (m *MemoryStore) SetFormContent(_ context.Context, formID string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.forms[formID]; !ok {
		return ErrFormMissing
	}
	cur := m.content[formID]
	if cur == nil {
		cur = make(map[string]string, len(values))
		m.content[formID] = cur
	}
	for k, v := range values {
		cur[k] = v
	}
	return nil
}

func (m *MemoryStore) GetSettings(_ context.Context, keys ...string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]string)
	if len(keys) == 0 {
		for k, v := range m.settings {
			res[k] = v
		}
		return res, nil
	}
	for _, k := range keys {
		if v, ok := m.settings[k]; ok {
			res[k] = v
		}
	}
	return res, nil
}

func (m *MemoryStore) SetSettings(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.settings[k] = v
	}
	return nil
}

func (m *MemoryStore) InsertLead(_ context.Context, l domain.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.forms[l.FormID]; !ok {
		return ErrFormMissing
	}
	key := leadKey{formID: l.FormID, email: l.Email}
	if _, exists := m.leadIdx[key]; exists {
		return ErrDuplicateLead
	}
	m.leads[l.ID] = l
	m.leadIdx[key] = l.ID
	return nil
}

func (m *MemoryStore) DeleteLead(_ context.Context, formID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := leadKey{formID: formID, email: email}
	if id, ok := m.leadIdx[key]; ok {
		delete(m.leads, id)
		delete(m.leadIdx, key)
	}
	return nil
}

func (m *MemoryStore) ReplaceLead(_ context.Context, l domain.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.forms[l.FormID]; !ok {
		return ErrFormMissing
	}
	key := leadKey{formID: l.FormID, email: l.Email}
	if id, ok := m.leadIdx[key]; ok {
		delete(m.leads, id)
	}
	m.leads[l.ID] = l
	m.leadIdx[key] = l.ID
	return nil
}

func (m *MemoryStore) FindLead(_ context.Context, formID, email string) (domain.Lead, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.leadIdx[leadKey{formID: formID, email: email}]
	if !ok {
		return domain.Lead{}, false, nil
	}
	return m.leads[id], true, nil
}

func (m *MemoryStore) GetLead(_ context.Context, id string) (domain.Lead, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.leads[id]
	return l, ok, nil
}

func (m *MemoryStore) DeleteLeadByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil
	}
	delete(m.leads, id)
	delete(m.leadIdx, leadKey{formID: l.FormID, email: l.Email})
	return nil
}

func (m *MemoryStore) ListLeadsByForm(_ context.Context, formID string) ([]domain.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Lead
	for _, l := range m.leads {
		if l.FormID == formID {
			res = append(res, l)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}
