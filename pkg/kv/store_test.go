package kv

import "testing"

func TestApplySetThenGet(t *testing.T) {
	s := New()
	if _, err := s.Apply(Encode(Command{Kind: Set, Key: "a", Value: []byte("1")})); err != nil {
		t.Fatalf("Apply Set: %v", err)
	}
	v, ok := s.Get("a")
	if !ok {
		t.Fatal("expected key a to be present")
	}
	if string(v) != "1" {
		t.Fatalf("expected value 1, got %q", v)
	}
}

func TestApplyDeleteReturnsPreviousValue(t *testing.T) {
	s := New()
	if _, err := s.Apply(Encode(Command{Kind: Set, Key: "a", Value: []byte("1")})); err != nil {
		t.Fatalf("Apply Set: %v", err)
	}
	prev, err := s.Apply(Encode(Command{Kind: Delete, Key: "a"}))
	if err != nil {
		t.Fatalf("Apply Delete: %v", err)
	}
	if string(prev.([]byte)) != "1" {
		t.Fatalf("expected previous value 1, got %v", prev)
	}
	if _, ok := s.Get("a"); ok {
		t.Fatal("expected key a to be gone after delete")
	}
}

func TestApplyIsIdempotentUnderReplay(t *testing.T) {
	s := New()
	payload := Encode(Command{Kind: Set, Key: "a", Value: []byte("1")})
	for i := 0; i < 3; i++ {
		if _, err := s.Apply(payload); err != nil {
			t.Fatalf("Apply #%d: %v", i, err)
		}
	}
	v, ok := s.Get("a")
	if !ok || string(v) != "1" {
		t.Fatalf("expected a=1 after repeated apply, got %q ok=%v", v, ok)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := New()
	if _, err := s.Apply(Encode(Command{Kind: Set, Key: "a", Value: []byte("1")})); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := s.Apply(Encode(Command{Kind: Set, Key: "b", Value: []byte("2")})); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	snap := s.Snapshot()

	restored := New()
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if v, ok := restored.Get("a"); !ok || string(v) != "1" {
		t.Fatalf("expected restored a=1, got %q ok=%v", v, ok)
	}
	if v, ok := restored.Get("b"); !ok || string(v) != "2" {
		t.Fatalf("expected restored b=2, got %q ok=%v", v, ok)
	}
}

func TestGetMissingKeyReturnsFalse(t *testing.T) {
	s := New()
	if _, ok := s.Get("missing"); ok {
		t.Fatal("expected Get on a missing key to report ok=false")
	}
}
