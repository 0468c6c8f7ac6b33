package job_test

import (
	"testing"

	"github.com/hollowroad/pgtask/job"
)

func TestStatusRoundTrip(t *testing.T) {
	cases := []job.Status{job.Todo, job.Doing, job.Succeeded, job.Failed, job.Unknown}
	for _, s := range cases {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", s, err)
		}
		var got job.Status
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", text, err)
		}
		if got != s {
			t.Fatalf("round trip mismatch: %v -> %q -> %v", s, text, got)
		}
	}
}

func TestParseStatusRejectsUnknownStrings(t *testing.T) {
	if _, err := job.ParseStatus("bogus"); err == nil {
		t.Fatal("expected an error parsing an unrecognized status string")
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := map[job.Status]bool{
		job.Todo:      false,
		job.Doing:     false,
		job.Succeeded: true,
		job.Failed:    true,
	}
	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Fatalf("%v.Terminal() = %v, want %v", s, got, want)
		}
	}
}
