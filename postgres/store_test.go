package postgres

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMarshalArgsNilBecomesEmptyObject(t *testing.T) {
	b, err := marshalArgs(nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "{}" {
		t.Fatalf("expected empty JSON object for nil args, got %q", b)
	}
}

func TestMarshalArgsRoundTrips(t *testing.T) {
	in := map[string]any{"to": "a@example.com", "n": float64(3)}
	b, err := marshalArgs(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) == 0 {
		t.Fatal("expected non-empty JSON")
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch: %v -> %s -> %v", in, b, out)
	}
}

// fakeRow is a single-row pgtask.Rows stub that copies fixed field
// values into whatever destination pointers scanJobRow passes, in
// column order, the way a real driver's Scan would.
type fakeRow struct {
	cols   []any
	cursor int
	closed bool
}

func (r *fakeRow) Next() bool {
	if r.cursor > 0 {
		return false
	}
	r.cursor++
	return true
}

func (r *fakeRow) Scan(dest ...any) error {
	if len(dest) != len(r.cols) {
		panic("fakeRow: column count mismatch")
	}
	for i, d := range dest {
		assign(d, r.cols[i])
	}
	return nil
}

func (r *fakeRow) Err() error { return nil }
func (r *fakeRow) Close()     { r.closed = true }

func assign(dest, val any) {
	dv := reflect.ValueOf(dest).Elem()
	vv := reflect.ValueOf(val)
	if !vv.IsValid() {
		dv.Set(reflect.Zero(dv.Type()))
		return
	}
	if dv.Kind() == reflect.Ptr && vv.Type() != dv.Type() {
		p := reflect.New(dv.Type().Elem())
		p.Elem().Set(vv)
		dv.Set(p)
		return
	}
	dv.Set(vv.Convert(dv.Type()))
}

func TestScanJobRowDecodesArgsAndStatus(t *testing.T) {
	now := time.Now()
	worker := uuid.New()
	row := &fakeRow{cols: []any{
		int64(42), "default", "email.send", []byte(`{"to":"a@example.com"}`), "doing",
		uint32(1), (*time.Time)(nil), (*string)(nil), &worker, now, now,
	}}

	jb, err := scanJobRow(row)
	if err != nil {
		t.Fatal(err)
	}
	if jb.ID != 42 || jb.Queue != "default" || jb.Task != "email.send" {
		t.Fatalf("unexpected job: %+v", jb)
	}
	if jb.Args["to"] != "a@example.com" {
		t.Fatalf("expected decoded args, got %v", jb.Args)
	}
	if jb.WorkerID != worker {
		t.Fatalf("expected WorkerID %v, got %v", worker, jb.WorkerID)
	}
	if jb.Status.String() != "doing" {
		t.Fatalf("expected status doing, got %v", jb.Status)
	}
}

func TestScanJobRowRejectsUnknownStatus(t *testing.T) {
	now := time.Now()
	worker := uuid.New()
	row := &fakeRow{cols: []any{
		int64(1), "default", "noop", []byte(nil), "bogus",
		uint32(0), (*time.Time)(nil), (*string)(nil), &worker, now, now,
	}}
	if _, err := scanJobRow(row); err == nil {
		t.Fatal("expected an error for an unrecognized status string")
	}
}
