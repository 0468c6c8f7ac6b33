package pgtask

import (
	"context"
	"testing"
)

func noopHandler(ctx context.Context, args map[string]any) error { return nil }

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Task{Name: "email.send", Handler: noopHandler}); err != nil {
		t.Fatal(err)
	}

	task, ok := r.Lookup("email.send")
	if !ok {
		t.Fatal("expected task to be found")
	}
	if task.Name != "email.send" {
		t.Fatalf("unexpected task: %+v", task)
	}

	if _, ok := r.Lookup("unknown.task"); ok {
		t.Fatal("expected lookup of unregistered task to fail")
	}
}

func TestRegistryRejectsInvalidTasks(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err == nil {
		t.Fatal("expected error registering nil task")
	}
	if err := r.Register(&Task{Handler: noopHandler}); err == nil {
		t.Fatal("expected error registering task with empty name")
	}
	if err := r.Register(&Task{Name: "t"}); err == nil {
		t.Fatal("expected error registering task with nil handler")
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Task{Name: "t", Handler: noopHandler}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&Task{Name: "t", Handler: noopHandler}); err == nil {
		t.Fatal("expected error registering a duplicate task name")
	}
}

func TestRegistryPeriodicFiltersNonPeriodicTasks(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Task{Name: "oneoff", Handler: noopHandler}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&Task{
		Name:     "cron.clean",
		Handler:  noopHandler,
		Periodic: &PeriodicSchedule{CronExpr: "*/5 * * * *"},
	}); err != nil {
		t.Fatal(err)
	}

	periodic := r.Periodic()
	if len(periodic) != 1 {
		t.Fatalf("expected exactly one periodic task, got %d", len(periodic))
	}
	if periodic[0].Name != "cron.clean" {
		t.Fatalf("unexpected periodic task: %+v", periodic[0])
	}
}

func TestRegistryIsolatedAcrossInstances(t *testing.T) {
	r1 := NewRegistry()
	r2 := NewRegistry()
	if err := r1.Register(&Task{Name: "t", Handler: noopHandler}); err != nil {
		t.Fatal(err)
	}
	if _, ok := r2.Lookup("t"); ok {
		t.Fatal("registries must not share state (spec §9: no global registry)")
	}
}
