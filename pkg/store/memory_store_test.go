package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"leadhero/pkg/domain"
)

func seedForm(t *testing.T, s *MemoryStore, id, owner string) {
	t.Helper()
	err := s.CreateForm(context.Background(), domain.Form{ID: id, OwnerID: owner, Name: "f", IsActive: true, CreatedAt: time.Now()}, nil)
	if err != nil {
		t.Fatalf("create form: %v", err)
	}
}

func TestMemoryStoreInsertLeadUniquePerFormEmail(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedForm(t, s, "f1", "u1")
	seedForm(t, s, "f2", "u1")

	if err := s.InsertLead(ctx, domain.Lead{ID: "l1", FormID: "f1", Email: "a@x.io"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertLead(ctx, domain.Lead{ID: "l2", FormID: "f1", Email: "a@x.io"}); !errors.Is(err, ErrDuplicateLead) {
		t.Fatalf("expected ErrDuplicateLead, got %v", err)
	}
	if err := s.InsertLead(ctx, domain.Lead{ID: "l3", FormID: "f2", Email: "a@x.io"}); err != nil {
		t.Fatalf("same email on another form should succeed: %v", err)
	}
	if err := s.InsertLead(ctx, domain.Lead{ID: "l4", FormID: "missing", Email: "a@x.io"}); !errors.Is(err, ErrFormMissing) {
		t.Fatalf("expected ErrFormMissing, got %v", err)
	}
}

func TestMemoryStoreDeleteLeadFreesSlot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedForm(t, s, "f1", "u1")

	_ = s.InsertLead(ctx, domain.Lead{ID: "l1", FormID: "f1", Email: "a@x.io"})
	if err := s.DeleteLead(ctx, "f1", "a@x.io"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.FindLead(ctx, "f1", "a@x.io"); ok {
		t.Fatalf("lead should be gone")
	}
	if err := s.DeleteLead(ctx, "f1", "a@x.io"); err != nil {
		t.Fatalf("deleting a missing lead should be a no-op: %v", err)
	}
	if err := s.InsertLead(ctx, domain.Lead{ID: "l2", FormID: "f1", Email: "a@x.io"}); err != nil {
		t.Fatalf("reinsert: %v", err)
	}
}

func TestMemoryStoreReplaceLead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedForm(t, s, "f1", "u1")

	if err := s.ReplaceLead(ctx, domain.Lead{ID: "l1", FormID: "f1", Email: "a@x.io", URL: "one"}); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if err := s.ReplaceLead(ctx, domain.Lead{ID: "l2", FormID: "f1", Email: "a@x.io", URL: "two"}); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	got, ok, _ := s.FindLead(ctx, "f1", "a@x.io")
	if !ok || got.ID != "l2" || got.URL != "two" {
		t.Fatalf("unexpected lead: %+v", got)
	}
	if _, ok, _ := s.GetLead(ctx, "l1"); ok {
		t.Fatal("replaced lead should be gone")
	}
	if err := s.ReplaceLead(ctx, domain.Lead{ID: "l3", FormID: "missing", Email: "a@x.io"}); !errors.Is(err, ErrFormMissing) {
		t.Fatalf("expected ErrFormMissing, got %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.ReplaceLead(ctx, domain.Lead{ID: fmt.Sprintf("c%d", i), FormID: "f1", Email: "a@x.io"})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent replace: %v", err)
		}
	}
	if leads, _ := s.ListLeadsByForm(ctx, "f1"); len(leads) != 1 {
		t.Fatalf("expected one row, got %d", len(leads))
	}
}

func TestMemoryStoreIncrementIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedForm(t, s, "f1", "u1")
	seedForm(t, s, "f2", "u1")
	seedForm(t, s, "f3", "u2")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.IncrementLeadCount(ctx, "f1")
		}()
	}
	wg.Wait()
	_ = s.IncrementLeadCount(ctx, "f2")
	_ = s.IncrementLeadCount(ctx, "f3")

	total, err := s.SumLeadCounts(ctx, "u1")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total != 51 {
		t.Fatalf("expected 51, got %d", total)
	}
	if err := s.IncrementLeadCount(ctx, "nope"); !errors.Is(err, ErrFormMissing) {
		t.Fatalf("expected ErrFormMissing, got %v", err)
	}
}

func TestMemoryStoreReconcileCountsVisitorLeadsOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seedForm(t, s, "f1", "u1")

	_ = s.InsertLead(ctx, domain.Lead{ID: "l1", FormID: "f1", Email: "a@x.io", Origin: domain.OriginVisitor})
	_ = s.InsertLead(ctx, domain.Lead{ID: "l2", FormID: "f1", Email: "b@x.io", Origin: domain.OriginOwner})
	_ = s.InsertLead(ctx, domain.Lead{ID: "l3", FormID: "f1", Email: "c@x.io", Origin: domain.OriginTest})
	for i := 0; i < 3; i++ {
		_ = s.IncrementLeadCount(ctx, "f1")
	}

	fixes, err := s.ReconcileLeadCounts(ctx, "", true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if len(fixes) != 1 || fixes[0].Before != 3 || fixes[0].After != 1 {
		t.Fatalf("unexpected corrections: %+v", fixes)
	}
	f, _, _ := s.GetForm(ctx, "f1")
	if f.LeadCount != 3 {
		t.Fatalf("dry run must not write, got %d", f.LeadCount)
	}

	if _, err := s.ReconcileLeadCounts(ctx, "f1", false); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	f, _, _ = s.GetForm(ctx, "f1")
	if f.LeadCount != 1 {
		t.Fatalf("expected counter 1, got %d", f.LeadCount)
	}
}

func TestMemoryStoreUserSummaries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	_ = s.SaveUser(ctx, domain.User{ID: "u1", Email: "one@x.io", CreatedAt: now})
	_ = s.SaveUser(ctx, domain.User{ID: "u2", Email: "two@x.io", CreatedAt: now.Add(time.Second)})
	seedForm(t, s, "f1", "u1")
	seedForm(t, s, "f2", "u1")
	_ = s.IncrementLeadCount(ctx, "f1")
	_ = s.IncrementLeadCount(ctx, "f2")

	sums, err := s.ListUserSummaries(ctx)
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(sums) != 2 || sums[0].ID != "u1" || sums[0].FormCount != 2 || sums[0].LeadCount != 2 || sums[1].LeadCount != 0 {
		t.Fatalf("unexpected summaries: %+v", sums)
	}

	u, ok, _ := s.GetUserByEmail(ctx, "two@x.io")
	if !ok || u.ID != "u2" {
		t.Fatalf("lookup by email failed: %+v", u)
	}
}

func TestMemoryStoreContentAndSettings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	err := s.CreateForm(ctx, domain.Form{ID: "f1", OwnerID: "u1"}, []domain.FormContent{{Key: "page_title", Value: "Hi"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetFormContent(ctx, "f1", map[string]string{"submit_button": "Go"}); err != nil {
		t.Fatalf("set content: %v", err)
	}
	items, _ := s.ListFormContent(ctx, "f1")
	if len(items) != 2 || items[0].Key != "page_title" || items[1].Value != "Go" {
		t.Fatalf("unexpected content: %+v", items)
	}
	if err := s.SetFormContent(ctx, "nope", map[string]string{"a": "b"}); !errors.Is(err, ErrFormMissing) {
		t.Fatalf("expected ErrFormMissing, got %v", err)
	}

	_ = s.SetSettings(ctx, map[string]string{"global_text_prompt": "p"})
	got, _ := s.GetSettings(ctx, "global_text_prompt", "global_image_prompt")
	if len(got) != 1 || got["global_text_prompt"] != "p" {
		t.Fatalf("unexpected settings: %+v", got)
	}
}
