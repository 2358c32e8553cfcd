package session

import (
	"errors"
	"testing"
	"time"

	"livetrans/stt"
	"livetrans/translate"
)

func TestRegistryCreateAndGet(t *testing.T) {
	reg := testRegistry(stt.NewStubRecognition(), &translate.StubTranslator{}, nil)

	s, err := reg.Create("call-7")
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "call-7" {
		t.Errorf("id = %q, want call-7", s.ID)
	}

	got, err := reg.Get("call-7")
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}

	if _, err := reg.Create("call-7"); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("duplicate Create = %v, want ErrDuplicateSession", err)
	}

	if _, err := reg.Get("no-such"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get unknown = %v, want ErrSessionNotFound", err)
	}

	reg.Remove("call-7")
}

func TestRegistryGeneratesIDs(t *testing.T) {
	reg := testRegistry(stt.NewStubRecognition(), &translate.StubTranslator{}, nil)

	a, err := reg.Create("")
	if err != nil {
		t.Fatal(err)
	}
	b, err := reg.Create("")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("generated ids %q and %q", a.ID, b.ID)
	}
	reg.Remove(a.ID)
	reg.Remove(b.ID)
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	reg := testRegistry(stt.NewStubRecognition(), &translate.StubTranslator{}, nil)

	s, _ := reg.Create("x")
	reg.Remove("x")
	reg.Remove("x")
	reg.Remove("never-existed")

	if s.State() != StateClosed {
		t.Errorf("removed session state = %v, want closed", s.State())
	}
	if reg.Active() != 0 {
		t.Errorf("active = %d, want 0", reg.Active())
	}

	// The id is free again after removal.
	if _, err := reg.Create("x"); err != nil {
		t.Fatalf("re-create after remove: %v", err)
	}
	reg.Remove("x")
}

func TestRegistrySweep(t *testing.T) {
	reg := testRegistry(stt.NewStubRecognition(), &translate.StubTranslator{}, nil)
	reg.MaxIdle = 50 * time.Millisecond

	fresh, _ := reg.Create("fresh")
	_, _ = reg.Create("stale")

	// A closed session still in the map gets swept regardless of age.
	closed, _ := reg.Create("closed")
	closed.Close()

	if n := reg.Sweep(time.Now()); n != 1 {
		t.Fatalf("first sweep removed %d, want 1 (the closed one)", n)
	}

	// Make only one session stale.
	fresh.setState(StateIdle) // refreshes lastActivity
	time.Sleep(60 * time.Millisecond)
	fresh.setState(StateIdle)

	if n := reg.Sweep(time.Now()); n != 1 {
		t.Fatalf("second sweep removed %d, want 1", n)
	}
	if _, err := reg.Get("stale"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("stale session still present: %v", err)
	}
	if _, err := reg.Get("fresh"); err != nil {
		t.Fatalf("fresh session swept: %v", err)
	}

	reg.Remove("fresh")
}
