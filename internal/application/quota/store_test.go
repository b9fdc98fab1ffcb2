package quota

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"latexbot-api/internal/domain/entity"
)

var errBackendDown = errors.New("backend unreachable")

type fakeDocumentRepo struct {
	mu     sync.Mutex
	docs   map[string][]byte
	getErr error
	putErr error
	puts   int
}

func newFakeDocumentRepo() *fakeDocumentRepo {
	return &fakeDocumentRepo{docs: map[string][]byte{}}
}

func (f *fakeDocumentRepo) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	doc, ok := f.docs[key]
	return doc, ok, nil
}

func (f *fakeDocumentRepo) Put(_ context.Context, key string, doc []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.puts++
	f.docs[key] = doc
	return nil
}

type fakeRowRepo struct {
	rows    []entity.LedgerRow
	nextRef int64
	calls   []string
}

func (f *fakeRowRepo) ListRows(context.Context) ([]entity.LedgerRow, error) {
	f.calls = append(f.calls, "list")
	return append([]entity.LedgerRow(nil), f.rows...), nil
}

func (f *fakeRowRepo) UpdateRow(_ context.Context, ref int64, row entity.LedgerRow) error {
	f.calls = append(f.calls, "update")
	for i := range f.rows {
		if f.rows[i].Ref == ref {
			f.rows[i].Day, f.rows[i].Count = row.Day, row.Count
			return nil
		}
	}
	return errors.New("no such row")
}

func (f *fakeRowRepo) AppendRow(_ context.Context, row entity.LedgerRow) error {
	f.calls = append(f.calls, "append")
	f.nextRef++
	row.Ref = f.nextRef + 100
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeRowRepo) DeleteRows(_ context.Context, refs []int64) error {
	f.calls = append(f.calls, "delete")
	drop := map[int64]bool{}
	for _, ref := range refs {
		drop[ref] = true
	}
	kept := f.rows[:0]
	for _, row := range f.rows {
		if !drop[row.Ref] {
			kept = append(kept, row)
		}
	}
	f.rows = kept
	return nil
}

func TestDocumentStoreLoad(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		present bool
		getErr  error
		want    entity.Ledger
		wantErr bool
	}{
		{name: "absent", want: entity.Ledger{}},
		{name: "valid", doc: `{"2024-03-10":4}`, present: true, want: entity.Ledger{"2024-03-10": 4}},
		{name: "malformed", doc: `{"2024-03-10":`, present: true, want: entity.Ledger{}},
		{name: "wrong shape", doc: `[1,2,3]`, present: true, want: entity.Ledger{}},
		{name: "null", doc: `null`, present: true, want: entity.Ledger{}},
		{name: "unreachable", getErr: errBackendDown, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeDocumentRepo()
			repo.getErr = tt.getErr
			if tt.present {
				repo.docs["k"] = []byte(tt.doc)
			}

			got, err := NewDocumentStore(repo, "k").Load(context.Background())
			if tt.wantErr {
				if !errors.Is(err, errBackendDown) {
					t.Fatalf("err = %v, want backend error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ledger = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDocumentStoreSavesWholeDocument(t *testing.T) {
	repo := newFakeDocumentRepo()
	store := NewDocumentStore(repo, "k")

	ledger := entity.Ledger{"2024-03-09": 2, "2024-03-10": 5}
	if err := store.SaveDay(context.Background(), ledger, "2024-03-10"); err != nil {
		t.Fatal(err)
	}
	if got := string(repo.docs["k"]); got != `{"2024-03-09":2,"2024-03-10":5}` {
		t.Fatalf("doc = %s", got)
	}
}

func TestRowStoreLoadFirstRowWins(t *testing.T) {
	repo := &fakeRowRepo{rows: []entity.LedgerRow{
		{Ref: 1, Day: "2024-03-09", Count: 2},
		{Ref: 2, Day: "2024-03-10", Count: 7},
		{Ref: 3, Day: "2024-03-10", Count: 99},
	}}

	got, err := NewRowStore(repo).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := entity.Ledger{"2024-03-09": 2, "2024-03-10": 7}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ledger = %v, want %v", got, want)
	}
}

func TestRowStoreSaveDay(t *testing.T) {
	repo := &fakeRowRepo{rows: []entity.LedgerRow{{Ref: 1, Day: "2024-03-09", Count: 2}}}
	store := NewRowStore(repo)
	ctx := context.Background()

	ledger := entity.Ledger{"2024-03-09": 2, "2024-03-10": 1}
	if err := store.SaveDay(ctx, ledger, "2024-03-10"); err != nil {
		t.Fatal(err)
	}
	ledger["2024-03-10"] = 2
	if err := store.SaveDay(ctx, ledger, "2024-03-10"); err != nil {
		t.Fatal(err)
	}

	wantCalls := []string{"list", "append", "list", "update"}
	if !reflect.DeepEqual(repo.calls, wantCalls) {
		t.Fatalf("calls = %v, want %v", repo.calls, wantCalls)
	}
	if len(repo.rows) != 2 || repo.rows[1].Day != "2024-03-10" || repo.rows[1].Count != 2 {
		t.Fatalf("rows = %v", repo.rows)
	}
}

func TestRowStoreSavePrunedDeletesDuplicates(t *testing.T) {
	repo := &fakeRowRepo{rows: []entity.LedgerRow{
		{Ref: 1, Day: "2024-02-01", Count: 2},
		{Ref: 2, Day: "2024-03-10", Count: 1},
		{Ref: 3, Day: "2024-02-01", Count: 5},
	}}

	if err := NewRowStore(repo).SavePruned(context.Background(), nil, []string{"2024-02-01"}); err != nil {
		t.Fatal(err)
	}
	if len(repo.rows) != 1 || repo.rows[0].Ref != 2 {
		t.Fatalf("rows = %v", repo.rows)
	}
}
