//go:build integration

package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stayawake/stayawake/internal/model"
	"github.com/stayawake/stayawake/internal/testutil"
)

// ============================================================================
// Postgres Repository Integration Tests
// ============================================================================

func TestIntegrationAccount_CreateIfAbsentCap(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acct := testutil.NewTestAccount(t, fmt.Sprintf("user%d@example.com", i), 100)
			_, ok, err := repo.CreateAccountIfAbsent(ctx, acct, 4)
			if err == nil && ok {
				created.Add(1)
			} else if err != nil && !errors.Is(err, ErrRegistrationClosed) {
				t.Errorf("CreateAccountIfAbsent() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := created.Load(); got != 4 {
		t.Fatalf("created %d accounts, want 4", got)
	}

	// An existing account is returned even when registration is closed.
	var existing string
	for i := 0; i < 10; i++ {
		email := fmt.Sprintf("user%d@example.com", i)
		if _, err := repo.GetAccount(ctx, email); err == nil {
			existing = email
			break
		}
	}
	_, ok, err := repo.CreateAccountIfAbsent(ctx, testutil.NewTestAccount(t, existing, 0), 4)
	if err != nil || ok {
		t.Fatalf("existing account: created=%v err=%v", ok, err)
	}
}

func TestIntegrationAccount_CreditBounds(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)
	seedAccount(t, ctx, repo, "a@example.com", 30_000)

	balance, err := repo.AddCredit(ctx, "a@example.com", 43_200, 70_000)
	if !errors.Is(err, ErrCreditLimitExceeded) {
		t.Fatalf("AddCredit() error = %v, want ErrCreditLimitExceeded", err)
	}
	if balance != 30_000 {
		t.Errorf("balance = %d, want 30000", balance)
	}

	if _, err := repo.DebitCredit(ctx, "a@example.com", 30_001); !errors.Is(err, ErrInsufficientCredit) {
		t.Errorf("DebitCredit() error = %v, want ErrInsufficientCredit", err)
	}
	if _, err := repo.DebitCredit(ctx, "ghost@example.com", 1); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("DebitCredit() error = %v, want ErrAccountNotFound", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.DebitCredit(ctx, "a@example.com", 2_000)
		}()
	}
	wg.Wait()

	acct, err := repo.GetAccount(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if acct.Credit != 0 {
		t.Errorf("credit = %d, want 0 after 15 successful debits", acct.Credit)
	}
}

func TestIntegrationLink_CreateCountsUnderLock(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)
	seedAccount(t, ctx, repo, "a@example.com", 100)

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.CreateLink(ctx, "a@example.com", func(owner *model.Account, existing int) (*model.Link, error) {
				if existing >= 3 {
					return nil, errors.New("limit")
				}
				return testutil.NewTestLink(t, "a@example.com", fmt.Sprintf("https://example.com/%d", i)), nil
			})
			if err == nil {
				created.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := created.Load(); got != 3 {
		t.Fatalf("created %d links, want 3", got)
	}

	links, err := repo.ListLinksByOwner(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("ListLinksByOwner() error = %v", err)
	}
	_, err = repo.CreateLink(ctx, "a@example.com", func(owner *model.Account, existing int) (*model.Link, error) {
		return testutil.NewTestLink(t, "a@example.com", links[0].URL), nil
	})
	if !errors.Is(err, ErrDuplicateLink) {
		t.Errorf("duplicate URL error = %v, want ErrDuplicateLink", err)
	}
}

func TestIntegrationLink_DeleteOwnership(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)
	seedAccount(t, ctx, repo, "a@example.com", 100)
	seedAccount(t, ctx, repo, "b@example.com", 100)
	link := seedLink(t, ctx, repo, "a@example.com", "https://example.com")

	if err := repo.DeleteLink(ctx, "b@example.com", link.ID); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("foreign delete error = %v, want ErrLinkNotFound", err)
	}
	if err := repo.DeleteLink(ctx, "a@example.com", link.ID); err != nil {
		t.Fatalf("DeleteLink() error = %v", err)
	}
	if err := repo.DeleteLink(ctx, "a@example.com", link.ID); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("second delete error = %v, want ErrLinkNotFound", err)
	}
}

func TestIntegrationLink_DueSkipsIneligibleOwners(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	seedAccount(t, ctx, repo, "broke1@example.com", 0)
	seedAccount(t, ctx, repo, "broke2@example.com", 9)
	seedAccount(t, ctx, repo, "gone@example.com", 1000)
	seedAccount(t, ctx, repo, "paid@example.com", 6)
	seedAccount(t, ctx, repo, "funded@example.com", 21_600)

	dueAt := func(email, url string, due time.Time) *model.Link {
		t.Helper()
		link, err := repo.CreateLink(ctx, email, func(owner *model.Account, existing int) (*model.Link, error) {
			l := testutil.NewTestLink(t, email, url)
			l.NextDueAt = due
			return l, nil
		})
		if err != nil {
			t.Fatalf("seed link: %v", err)
		}
		return link
	}
	dueAt("broke1@example.com", "https://example.com/b1", now.Add(-3*time.Hour))
	dueAt("broke2@example.com", "https://example.com/b2", now.Add(-3*time.Hour))
	dueAt("gone@example.com", "https://example.com/g", now.Add(-2*time.Hour))
	paid := dueAt("paid@example.com", "https://example.com/p", now.Add(-time.Hour))
	funded := dueAt("funded@example.com", "https://example.com/f", now)

	if err := repo.SetDisabled(ctx, "gone@example.com", now); err != nil {
		t.Fatalf("SetDisabled() error = %v", err)
	}
	if _, err := repo.UpdateAccount(ctx, "paid@example.com", func(a *model.Account) error {
		a.Plan, a.SubscriptionStatus = model.PlanPaid, model.SubscriptionActive
		return nil
	}); err != nil {
		t.Fatalf("UpdateAccount() error = %v", err)
	}

	due, err := repo.ListDueLinks(ctx, DueQuery{Now: now, Limit: 2, Policies: model.DefaultPlanPolicies()})
	if err != nil {
		t.Fatalf("ListDueLinks() error = %v", err)
	}
	if len(due) != 2 || due[0].ID != paid.ID || due[1].ID != funded.ID {
		ids := make([]string, len(due))
		for i, l := range due {
			ids[i] = l.ID
		}
		t.Fatalf("due = %v, want [%s %s]", ids, paid.ID, funded.ID)
	}
}

func TestIntegrationPing_CompleteAtomic(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)
	seedAccount(t, ctx, repo, "a@example.com", 15)
	link := seedLink(t, ctx, repo, "a@example.com", "https://example.com")

	now := time.Now().UTC().Truncate(time.Microsecond)
	completion := func() *model.PingCompletion {
		return &model.PingCompletion{
			Record: &model.PingRecord{
				ID:           testutil.UniqueID("ping"),
				LinkID:       link.ID,
				URL:          link.URL,
				OwnerEmail:   link.OwnerEmail,
				StatusCode:   200,
				Outcome:      model.PingSuccess,
				ResponseTime: 120 * time.Millisecond,
				PingedAt:     now,
			},
			NextDueAt: now.Add(10 * time.Minute),
			Cost:      10,
		}
	}

	updated, err := repo.CompletePing(ctx, completion())
	if err != nil {
		t.Fatalf("CompletePing() error = %v", err)
	}
	if updated.PingCount != 1 || !updated.NextDueAt.Equal(now.Add(10*time.Minute)) {
		t.Errorf("unexpected link after ping: %+v", updated)
	}

	// Balance is now 5, below the cost: nothing may change.
	if _, err := repo.CompletePing(ctx, completion()); !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("CompletePing() error = %v, want ErrInsufficientCredit", err)
	}

	got, err := repo.GetLink(ctx, link.ID)
	if err != nil {
		t.Fatalf("GetLink() error = %v", err)
	}
	if got.PingCount != 1 {
		t.Errorf("ping_count = %d, want 1 after rolled back completion", got.PingCount)
	}

	records, err := repo.RecentPings(ctx, link.ID, 10)
	if err != nil {
		t.Fatalf("RecentPings() error = %v", err)
	}
	if len(records) != 1 || records[0].ResponseTime != 120*time.Millisecond {
		t.Errorf("unexpected records: %+v", records)
	}

	if err := repo.DeleteLink(ctx, "a@example.com", link.ID); err != nil {
		t.Fatalf("DeleteLink() error = %v", err)
	}
	if _, err := repo.CompletePing(ctx, completion()); !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("CompletePing() on deleted link error = %v, want ErrLinkNotFound", err)
	}
}

func TestIntegrationPing_Prune(t *testing.T) {
	ctx, repo := newRepositoryTestEnv(t)
	seedAccount(t, ctx, repo, "a@example.com", 1_000)
	link := seedLink(t, ctx, repo, "a@example.com", "https://example.com")

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 8; i++ {
		_, err := repo.CompletePing(ctx, &model.PingCompletion{
			Record: &model.PingRecord{
				ID:         testutil.UniqueID("ping"),
				LinkID:     link.ID,
				URL:        link.URL,
				OwnerEmail: link.OwnerEmail,
				Outcome:    model.PingSuccess,
				PingedAt:   base.Add(time.Duration(i) * time.Second),
			},
			NextDueAt: base,
			Cost:      1,
		})
		if err != nil {
			t.Fatalf("CompletePing() error = %v", err)
		}
	}

	removed, err := repo.PrunePings(ctx, 5)
	if err != nil {
		t.Fatalf("PrunePings() error = %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	records, err := repo.RecentPings(ctx, link.ID, 100)
	if err != nil {
		t.Fatalf("RecentPings() error = %v", err)
	}
	if len(records) != 5 || !records[0].PingedAt.Equal(base.Add(7*time.Second)) {
		t.Errorf("unexpected history after prune: %d records", len(records))
	}
}

// ============================================================================
// Helpers
// ============================================================================

func newRepositoryTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	unlock, err := testutil.AcquireDBLock(ctx, pool)
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_ = unlock()
	})

	if err := testutil.ResetSchema(dbURL); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	return ctx, NewFromPool(pool)
}

func seedAccount(t *testing.T, ctx context.Context, repo *Repository, email string, credit int64) {
	t.Helper()
	if _, _, err := repo.CreateAccountIfAbsent(ctx, testutil.NewTestAccount(t, email, credit), 0); err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

func seedLink(t *testing.T, ctx context.Context, repo *Repository, email, url string) *model.Link {
	t.Helper()
	link, err := repo.CreateLink(ctx, email, func(owner *model.Account, existing int) (*model.Link, error) {
		return testutil.NewTestLink(t, email, url), nil
	})
	if err != nil {
		t.Fatalf("seed link: %v", err)
	}
	return link
}
