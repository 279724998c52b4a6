package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"leadhero/pkg/domain"
	"leadhero/pkg/store"
)

type fakeSessions map[string]string

func (f fakeSessions) GetUserIDByToken(_ context.Context, token string) (string, bool, error) {
	if token == "expired" {
		return "", false, errors.New("token expired")
	}
	id, ok := f[token]
	return id, ok, nil
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	drift    int
}

func (o *countingObserver) Admitted(role Role, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string]int)
	}
	o.outcomes[role.String()+"/"+outcome]++
}

func (o *countingObserver) CounterDrift(string) {
	o.mu.Lock()
	o.drift++
	o.mu.Unlock()
}

type fixture struct {
	store    *store.MemoryStore
	engine   *Engine
	observer *countingObserver
}

func intPtr(v int) *int { return &v }

// newFixture seeds owner u1 with forms f1 and f2, and owner u2 with form g1.
// Session token "tok-u1" belongs to u1 and "tok-u2" to u2.
func newFixture(t *testing.T, maxLeads *int) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	now := time.Now()
	for _, u := range []domain.User{
		{ID: "u1", Email: "owner@x.io", Role: domain.RoleUser, MaxLeads: maxLeads, CreatedAt: now},
		{ID: "u2", Email: "other@x.io", Role: domain.RoleUser, MaxLeads: maxLeads, CreatedAt: now},
	} {
		if err := s.SaveUser(ctx, u); err != nil {
			t.Fatalf("save user: %v", err)
		}
	}
	for _, f := range []domain.Form{
		{ID: "f1", OwnerID: "u1", IsActive: true},
		{ID: "f2", OwnerID: "u1", IsActive: true},
		{ID: "g1", OwnerID: "u2", IsActive: true},
	} {
		if err := s.CreateForm(ctx, f, nil); err != nil {
			t.Fatalf("create form: %v", err)
		}
	}
	obs := &countingObserver{}
	e, err := NewEngine(Config{
		Store:    s,
		Sessions: fakeSessions{"tok-u1": "u1", "tok-u2": "u2"},
		Observer: obs,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &fixture{store: s, engine: e, observer: obs}
}

func (f *fixture) leadCount(t *testing.T, formID string) int {
	t.Helper()
	form, ok, err := f.store.GetForm(context.Background(), formID)
	if err != nil || !ok {
		t.Fatalf("get form %s: ok=%v err=%v", formID, ok, err)
	}
	return form.LeadCount
}

func (f *fixture) leadRows(t *testing.T, formID string) int {
	t.Helper()
	leads, err := f.store.ListLeadsByForm(context.Background(), formID)
	if err != nil {
		t.Fatalf("list leads: %v", err)
	}
	return len(leads)
}

func (f *fixture) bump(t *testing.T, formID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := f.store.IncrementLeadCount(context.Background(), formID); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
}

func (f *fixture) admit(t *testing.T, sub Submission) Decision {
	t.Helper()
	dec, err := f.engine.Admit(context.Background(), sub)
	if err != nil {
		t.Fatalf("admit %+v: %v", sub, err)
	}
	return dec
}

func TestQuotaBoundary(t *testing.T) {
	cases := []struct {
		name     string
		existing int
		accepted bool
	}{
		{name: "one below limit", existing: 2, accepted: true},
		{name: "at limit", existing: 3, accepted: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, intPtr(3))
			f.bump(t, "f1", tc.existing)

			dec := f.admit(t, Submission{FormID: "f2", Email: "v@x.io"})
			if dec.Accepted != tc.accepted {
				t.Fatalf("accepted=%v want %v (%+v)", dec.Accepted, tc.accepted, dec)
			}
			if !tc.accepted {
				if dec.Reason != ReasonQuotaExceeded || dec.Count != "3/3" {
					t.Fatalf("unexpected rejection: %+v", dec)
				}
				if f.leadRows(t, "f2") != 0 {
					t.Fatal("rejected submission must not insert")
				}
			}
		})
	}
}

func TestUnlimitedQuota(t *testing.T) {
	f := newFixture(t, nil)
	f.bump(t, "f1", 10_000)

	dec := f.admit(t, Submission{FormID: "f1", Email: "v@x.io"})
	if !dec.Accepted {
		t.Fatalf("expected accept, got %+v", dec)
	}
	q, err := f.engine.Quota(context.Background(), "u1")
	if err != nil {
		t.Fatalf("quota: %v", err)
	}
	if !q.CanCreate || q.Limit != nil || q.CurrentCount != 10_001 || q.CountString() != "10001" {
		t.Fatalf("unexpected quota: %+v", q)
	}
}

func TestSuperadminIsUnlimited(t *testing.T) {
	f := newFixture(t, intPtr(1))
	ctx := context.Background()
	u, _, _ := f.store.GetUser(ctx, "u1")
	u.Role = domain.RoleSuperadmin
	_ = f.store.SaveUser(ctx, u)
	f.bump(t, "f1", 5)

	if dec := f.admit(t, Submission{FormID: "f1", Email: "v@x.io"}); !dec.Accepted {
		t.Fatalf("superadmin owner must be unlimited: %+v", dec)
	}
}

func TestDuplicateRejection(t *testing.T) {
	f := newFixture(t, intPtr(10))

	first := f.admit(t, Submission{FormID: "f1", Email: "v@x.io", URL: "https://a.example"})
	if !first.Accepted || first.Role != RoleVisitor || first.Lead.Origin != domain.OriginVisitor {
		t.Fatalf("first submission: %+v", first)
	}
	second := f.admit(t, Submission{FormID: "f1", Email: "v@x.io", URL: "https://b.example"})
	if second.Accepted || second.Reason != ReasonDuplicateEmail {
		t.Fatalf("second submission: %+v", second)
	}
	if got := f.leadRows(t, "f1"); got != 1 {
		t.Fatalf("expected 1 row, got %d", got)
	}
	if got := f.leadCount(t, "f1"); got != 1 {
		t.Fatalf("expected counter 1, got %d", got)
	}
	lead, _, _ := f.store.FindLead(context.Background(), "f1", "v@x.io")
	if lead.URL != "https://a.example" {
		t.Fatalf("duplicate must not overwrite, got %q", lead.URL)
	}
}

func TestOwnerBypass(t *testing.T) {
	f := newFixture(t, intPtr(1))
	f.bump(t, "f1", 1)

	for i := 0; i < 3; i++ {
		dec := f.admit(t, Submission{
			FormID:       "f1",
			Email:        "owner@x.io",
			URL:          fmt.Sprintf("https://%d.example", i),
			SessionToken: "tok-u1",
		})
		if !dec.Accepted || dec.Role != RoleOwner || dec.Lead.Origin != domain.OriginOwner {
			t.Fatalf("owner submission %d: %+v", i, dec)
		}
	}
	if got := f.leadCount(t, "f1"); got != 1 {
		t.Fatalf("owner submissions must not increment, got %d", got)
	}
	if got := f.leadRows(t, "f1"); got != 1 {
		t.Fatalf("expected replaced row, got %d rows", got)
	}
	lead, _, _ := f.store.FindLead(context.Background(), "f1", "owner@x.io")
	if lead.URL != "https://2.example" {
		t.Fatalf("expected latest submission kept, got %q", lead.URL)
	}
}

func TestOwnerOfAnotherFormIsVisitor(t *testing.T) {
	f := newFixture(t, intPtr(5))
	dec := f.admit(t, Submission{FormID: "f1", Email: "other@x.io", SessionToken: "tok-u2"})
	if dec.Role != RoleVisitor || !dec.Accepted {
		t.Fatalf("expected visitor path, got %+v", dec)
	}
	if got := f.leadCount(t, "f1"); got != 1 {
		t.Fatalf("visitor path must increment, got %d", got)
	}
}

func TestTestIdentityBypass(t *testing.T) {
	f := newFixture(t, intPtr(1))
	f.bump(t, "f1", 1)

	for _, email := range []string{DefaultTestIdentity, "Hello@Vasilkov.Digital", " HELLO@VASILKOV.DIGITAL "} {
		dec := f.admit(t, Submission{FormID: "f1", Email: email})
		if !dec.Accepted || dec.Role != RoleTestIdentity || dec.Lead.Origin != domain.OriginTest {
			t.Fatalf("test identity %q: %+v", email, dec)
		}
	}
	if got := f.leadCount(t, "f1"); got != 1 {
		t.Fatalf("test identity must not increment, got %d", got)
	}
	if total, _ := f.store.SumLeadCounts(context.Background(), "u1"); total != 1 {
		t.Fatalf("owner total changed: %d", total)
	}
	if got := f.leadRows(t, "f1"); got != 1 {
		t.Fatalf("expected a single test row, got %d", got)
	}
}

func TestTestIdentityOnInactiveForm(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	form, _, _ := f.store.GetForm(ctx, "f1")
	form.IsActive = false
	_ = f.store.UpdateForm(ctx, form)

	if dec := f.admit(t, Submission{FormID: "f1", Email: DefaultTestIdentity}); !dec.Accepted {
		t.Fatalf("test identity should bypass activity: %+v", dec)
	}
	if _, err := f.engine.Admit(ctx, Submission{FormID: "f1", Email: "v@x.io"}); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("visitor on inactive form: expected ErrFormNotFound, got %v", err)
	}
}

func TestCounterIsolation(t *testing.T) {
	f := newFixture(t, intPtr(2))

	if dec := f.admit(t, Submission{FormID: "f1", Email: "a@x.io"}); !dec.Accepted {
		t.Fatalf("a: %+v", dec)
	}
	if dec := f.admit(t, Submission{FormID: "f1", Email: "b@x.io"}); !dec.Accepted {
		t.Fatalf("b: %+v", dec)
	}
	// f1 consumed u1's quota, so f2 is blocked.
	dec := f.admit(t, Submission{FormID: "f2", Email: "c@x.io"})
	if dec.Accepted || dec.Reason != ReasonQuotaExceeded || dec.Count != "2/2" {
		t.Fatalf("f2 should be over quota: %+v", dec)
	}
	// u2 is unaffected.
	if dec := f.admit(t, Submission{FormID: "g1", Email: "c@x.io"}); !dec.Accepted {
		t.Fatalf("other owner should accept: %+v", dec)
	}
	if got := f.leadCount(t, "f2"); got != 0 {
		t.Fatalf("f2 counter changed: %d", got)
	}
}

func TestDeletionDoesNotRefundQuota(t *testing.T) {
	f := newFixture(t, intPtr(2))
	ctx := context.Background()
	if dec := f.admit(t, Submission{FormID: "f1", Email: "first@x.io"}); !dec.Accepted {
		t.Fatalf("seed f1: %+v", dec)
	}
	if dec := f.admit(t, Submission{FormID: "f2", Email: "second@x.io"}); !dec.Accepted {
		t.Fatalf("seed f2: %+v", dec)
	}

	dec := f.admit(t, Submission{FormID: "f2", Email: "third@x.io"})
	if dec.Accepted || dec.Reason != ReasonQuotaExceeded || dec.Count != "2/2" {
		t.Fatalf("expected 2/2 rejection, got %+v", dec)
	}

	if err := f.store.DeleteLead(ctx, "f1", "first@x.io"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	dec = f.admit(t, Submission{FormID: "f2", Email: "third@x.io"})
	if dec.Accepted || dec.Count != "2/2" {
		t.Fatalf("deletion must not refund quota, got %+v", dec)
	}

	fixes, err := f.store.ReconcileLeadCounts(ctx, "", false)
	if err != nil || len(fixes) != 1 || fixes[0].FormID != "f1" {
		t.Fatalf("reconcile: %+v %v", fixes, err)
	}
	if dec := f.admit(t, Submission{FormID: "f2", Email: "third@x.io"}); !dec.Accepted {
		t.Fatalf("after reconciliation the slot is free: %+v", dec)
	}
}

func TestRolePrecedence(t *testing.T) {
	f := newFixture(t, intPtr(0))
	dec := f.admit(t, Submission{FormID: "f1", Email: DefaultTestIdentity, SessionToken: "tok-u1"})
	if !dec.Accepted || dec.Role != RoleTestIdentity {
		t.Fatalf("test identity must win over owner: %+v", dec)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		email string
		id    Identity
		want  Role
	}{
		{email: "v@x.io", want: RoleVisitor},
		{email: "v@x.io", id: Identity{UserID: "u1"}, want: RoleVisitor},
		{email: "v@x.io", id: Identity{UserID: "u1", IsOwner: true}, want: RoleOwner},
		{email: "QA@x.io", id: Identity{UserID: "u1", IsOwner: true}, want: RoleTestIdentity},
		{email: "qa@x.io", want: RoleTestIdentity},
	}
	for _, tc := range cases {
		if got := Classify(tc.email, "qa@x.io", tc.id); got != tc.want {
			t.Fatalf("Classify(%q, %+v) = %v, want %v", tc.email, tc.id, got, tc.want)
		}
	}
	if IsTestIdentity("", "") {
		t.Fatal("empty test identity must never match")
	}
}

func TestConfiguredTestIdentity(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	_ = s.SaveUser(ctx, domain.User{ID: "u1", Email: "o@x.io", MaxLeads: intPtr(0)})
	_ = s.CreateForm(ctx, domain.Form{ID: "f1", OwnerID: "u1", IsActive: true}, nil)
	e, err := NewEngine(Config{Store: s, TestIdentity: "qa@leadhero.dev"})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	dec, err := e.Admit(ctx, Submission{FormID: "f1", Email: "QA@leadhero.dev"})
	if err != nil || !dec.Accepted || dec.Role != RoleTestIdentity {
		t.Fatalf("configured identity: %+v %v", dec, err)
	}
	dec, err = e.Admit(ctx, Submission{FormID: "f1", Email: DefaultTestIdentity})
	if err != nil || dec.Accepted || dec.Reason != ReasonQuotaExceeded {
		t.Fatalf("default literal must not bypass once overridden: %+v %v", dec, err)
	}
}

func TestConcurrentDuplicateVisitors(t *testing.T) {
	f := newFixture(t, intPtr(100))
	const workers = 32

	var accepted, duplicates atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			dec, err := f.engine.Admit(context.Background(), Submission{FormID: "f1", Email: "race@x.io"})
			if err != nil {
				t.Errorf("admit: %v", err)
				return
			}
			if dec.Accepted {
				accepted.Add(1)
			} else if dec.Reason == ReasonDuplicateEmail {
				duplicates.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if accepted.Load() != 1 || duplicates.Load() != workers-1 {
		t.Fatalf("accepted=%d duplicates=%d", accepted.Load(), duplicates.Load())
	}
	if got := f.leadRows(t, "f1"); got != 1 {
		t.Fatalf("expected exactly one row, got %d", got)
	}
	if got := f.leadCount(t, "f1"); got != 1 {
		t.Fatalf("expected exactly one increment, got %d", got)
	}
}

// slowReplaceStore widens the window between concurrent replacements.
type slowReplaceStore struct {
	*store.MemoryStore
}

func (s slowReplaceStore) ReplaceLead(ctx context.Context, l domain.Lead) error {
	time.Sleep(time.Millisecond)
	return s.MemoryStore.ReplaceLead(ctx, l)
}

func TestConcurrentExemptReplacements(t *testing.T) {
	f := newFixture(t, intPtr(1))
	e, err := NewEngine(Config{Store: slowReplaceStore{f.store}, Sessions: fakeSessions{"tok-u1": "u1"}})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	subs := []Submission{
		{FormID: "f1", Email: "owner@x.io", SessionToken: "tok-u1"},
		{FormID: "f1", Email: "Hello@Vasilkov.Digital"},
	}
	const perRole = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []error
	)
	for _, sub := range subs {
		for i := 0; i < perRole; i++ {
			wg.Add(1)
			go func(sub Submission) {
				defer wg.Done()
				dec, err := e.Admit(context.Background(), sub)
				if err == nil && !dec.Accepted {
					err = fmt.Errorf("rejected: %+v", dec)
				}
				if err != nil {
					mu.Lock()
					failed = append(failed, err)
					mu.Unlock()
				}
			}(sub)
		}
	}
	wg.Wait()

	if len(failed) > 0 {
		t.Fatalf("%d of %d exempt submissions failed, first: %v", len(failed), perRole*len(subs), failed[0])
	}
	if got := f.leadRows(t, "f1"); got != 2 {
		t.Fatalf("expected one owner row and one test row, got %d", got)
	}
	if got := f.leadCount(t, "f1"); got != 0 {
		t.Fatalf("exempt paths must not count, got %d", got)
	}
}

type failingIncrementStore struct {
	*store.MemoryStore
}

func (failingIncrementStore) IncrementLeadCount(context.Context, string) error {
	return errors.New("connection reset")
}

func TestIncrementFailureKeepsLead(t *testing.T) {
	f := newFixture(t, intPtr(5))
	e, err := NewEngine(Config{Store: failingIncrementStore{f.store}, Observer: f.observer})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	dec, err := e.Admit(context.Background(), Submission{FormID: "f1", Email: "v@x.io"})
	if err != nil || !dec.Accepted {
		t.Fatalf("expected accept despite counter failure: %+v %v", dec, err)
	}
	if _, ok, _ := f.store.FindLead(context.Background(), "f1", "v@x.io"); !ok {
		t.Fatal("lead must be kept")
	}
	if f.observer.drift != 1 {
		t.Fatalf("expected drift to be reported once, got %d", f.observer.drift)
	}
}

type failingFindStore struct {
	*store.MemoryStore
}

func (failingFindStore) FindLead(context.Context, string, string) (domain.Lead, bool, error) {
	return domain.Lead{}, false, errors.New("db down")
}

func TestStorageFailureIsTyped(t *testing.T) {
	f := newFixture(t, intPtr(5))
	e, _ := NewEngine(Config{Store: failingFindStore{f.store}})

	_, err := e.Admit(context.Background(), Submission{FormID: "f1", Email: "v@x.io"})
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "find lead" {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestIdentityFailureDegradesToVisitor(t *testing.T) {
	f := newFixture(t, intPtr(1))
	f.bump(t, "f1", 1)

	for _, token := range []string{"expired", "unknown-token"} {
		dec := f.admit(t, Submission{FormID: "f1", Email: "owner@x.io", SessionToken: token})
		if dec.Role != RoleVisitor || dec.Accepted || dec.Reason != ReasonQuotaExceeded {
			t.Fatalf("token %q: expected visitor rejection, got %+v", token, dec)
		}
	}
}

func TestVisitorErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.engine.Admit(ctx, Submission{FormID: "missing", Email: "v@x.io"}); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("expected ErrFormNotFound, got %v", err)
	}
	if _, err := f.engine.Admit(ctx, Submission{FormID: "missing", Email: DefaultTestIdentity}); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("test identity on unknown form: expected ErrFormNotFound, got %v", err)
	}
	if _, err := f.engine.Admit(ctx, Submission{FormID: "f1", Email: "  "}); !errors.Is(err, ErrInvalidSubmission) {
		t.Fatalf("expected ErrInvalidSubmission, got %v", err)
	}

	_ = f.store.CreateForm(ctx, domain.Form{ID: "orphan", OwnerID: "ghost", IsActive: true}, nil)
	if _, err := f.engine.Admit(ctx, Submission{FormID: "orphan", Email: "v@x.io"}); !errors.Is(err, ErrOwnerNotFound) {
		t.Fatalf("expected ErrOwnerNotFound, got %v", err)
	}
	if f.observer.outcomes["visitor/form_not_found"] != 1 || f.observer.outcomes["visitor/error"] != 1 {
		t.Fatalf("unexpected outcomes: %v", f.observer.outcomes)
	}
}
