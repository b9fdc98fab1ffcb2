package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"latexbot-api/internal/domain/entity"
)

func TestLedgerCheck(t *testing.T) {
	l := NewLedger(NewDocumentStore(newFakeDocumentRepo(), "k"), 7)

	tests := []struct {
		name    string
		ledger  entity.Ledger
		limit   int64
		allowed bool
		count   int64
	}{
		{name: "missing entry", ledger: entity.Ledger{}, limit: 150, allowed: true, count: 0},
		{name: "below limit", ledger: entity.Ledger{"2024-03-10": 149}, limit: 150, allowed: true, count: 149},
		{name: "at limit", ledger: entity.Ledger{"2024-03-10": 150}, limit: 150, allowed: false, count: 150},
		{name: "other day only", ledger: entity.Ledger{"2024-03-09": 500}, limit: 150, allowed: true, count: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := l.Check(tt.ledger, "2024-03-10", tt.limit)
			if d.Allowed != tt.allowed || d.ObservedCount != tt.count || d.Limit != tt.limit {
				t.Fatalf("decision = %+v", d)
			}
		})
	}
}

func TestLedgerSequentialCommits(t *testing.T) {
	repo := newFakeDocumentRepo()
	l := NewLedger(NewDocumentStore(repo, "k"), 7)
	ctx := context.Background()

	const n = 12
	for i := 0; i < n; i++ {
		ledger, err := l.LoadPruned(ctx, "2024-03-10")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := l.Commit(ctx, ledger, "2024-03-10"); err != nil {
			t.Fatal(err)
		}
	}

	ledger, err := l.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := ledger.Count("2024-03-10"); got != n {
		t.Fatalf("count = %d, want %d", got, n)
	}
}

func TestLedgerLoadPrunedPersistsEviction(t *testing.T) {
	repo := newFakeDocumentRepo()
	repo.docs["k"] = []byte(`{"2024-02-01":3,"2024-03-09":1}`)
	l := NewLedger(NewDocumentStore(repo, "k"), 7)

	ledger, err := l.LoadPruned(context.Background(), "2024-03-10")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ledger["2024-02-01"]; ok {
		t.Fatal("stale entry survived load")
	}
	if got := string(repo.docs["k"]); got != `{"2024-03-09":1}` {
		t.Fatalf("persisted doc = %s", got)
	}

	puts := repo.puts
	if _, err := l.LoadPruned(context.Background(), "2024-03-10"); err != nil {
		t.Fatal(err)
	}
	if repo.puts != puts {
		t.Fatal("clean ledger should not be rewritten")
	}
}

func TestLedgerLoadPrunedBackendErrors(t *testing.T) {
	repo := newFakeDocumentRepo()
	repo.docs["k"] = []byte(`{"2024-02-01":3}`)
	repo.putErr = errBackendDown
	l := NewLedger(NewDocumentStore(repo, "k"), 7)

	if _, err := l.LoadPruned(context.Background(), "2024-03-10"); !errors.Is(err, errBackendDown) {
		t.Fatalf("err = %v", err)
	}
}

func TestResetAfter(t *testing.T) {
	now := time.Date(2024, 3, 10, 22, 30, 0, 0, time.UTC)
	if got := ResetAfter(now, time.UTC); got != 90*time.Minute {
		t.Fatalf("reset after = %v", got)
	}
	plus3 := time.FixedZone("UTC+3", 3*60*60)
	if got := ResetAfter(now, plus3); got != 22*time.Hour+30*time.Minute {
		t.Fatalf("reset after in UTC+3 = %v", got)
	}
}

func TestExceededErrorMentionsLimit(t *testing.T) {
	err := &ExceededError{Day: "2024-03-10", Count: 150, Limit: 150}
	if got := err.Error(); got != "Daily limit of 150 requests reached, try again tomorrow" {
		t.Fatalf("message = %q", got)
	}
}
