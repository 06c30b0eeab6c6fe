package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"relay/internal/server/token"
)

// scriptedGen hands out predetermined identifiers in order.
type scriptedGen struct {
	mu      sync.Mutex
	links   []string
	pickups []string
}

func (g *scriptedGen) Link() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.links) == 0 {
		return "", errors.New("out of links")
	}
	next := g.links[0]
	g.links = g.links[1:]
	return next, nil
}

func (g *scriptedGen) Pickup() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pickups) == 0 {
		return "", errors.New("out of pickups")
	}
	next := g.pickups[0]
	g.pickups = g.pickups[1:]
	return next, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	t.Run("resolves registered link", func(t *testing.T) {
		r := New()
		r.Register("AbCdEfGhIjKlMnOp", Target{Name: "photo.jpg", Kind: KindFile})

		got, err := r.ResolveLink("AbCdEfGhIjKlMnOp")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Name != "photo.jpg" || got.Kind != KindFile {
			t.Errorf("unexpected target: %+v", got)
		}
		if got.CreatedAt.IsZero() {
			t.Error("expected CreatedAt to be set")
		}
	})

	t.Run("register overwrites", func(t *testing.T) {
		r := New()
		r.Register("tok", Target{Name: "a.txt"})
		r.Register("tok", Target{Name: "b.txt"})

		got, _ := r.ResolveLink("tok")
		if got.Name != "b.txt" {
			t.Errorf("expected b.txt, got %q", got.Name)
		}
	})

	t.Run("resolves registered pickup", func(t *testing.T) {
		r := New()
		r.RegisterPickup("Ab12", "http://localhost:6789/download/file/a.txt")
		r.RegisterPickup("Ab12", "http://localhost:6789/download/file/b.txt")

		url, err := r.ResolvePickup("Ab12")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if url != "http://localhost:6789/download/file/b.txt" {
			t.Errorf("unexpected url: %s", url)
		}
	})

	t.Run("unknown identifiers are not found", func(t *testing.T) {
		r := New()
		if _, err := r.ResolveLink("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := r.ResolvePickup("ZZZZ"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("links and pickups are separate namespaces", func(t *testing.T) {
		r := New()
		r.RegisterPickup("abcd", "http://x/download/file/a")

		if _, err := r.ResolveLink("abcd"); !errors.Is(err, ErrNotFound) {
			t.Errorf("pickup code should not resolve as link, got %v", err)
		}
	})
}

func TestRegistry_Mint(t *testing.T) {
	t.Run("retries on collision", func(t *testing.T) {
		var collisions []string
		r := New(WithCollisionHook(func(ns string) { collisions = append(collisions, ns) }))
		r.Register("taken00000000000", Target{Name: "a"})
		r.RegisterPickup("tknn", "http://x/a")

		gen := &scriptedGen{
			links:   []string{"taken00000000000", "fresh00000000000"},
			pickups: []string{"tknn", "frsh"},
		}
		p, err := r.Reserve(gen)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Token != "fresh00000000000" || p.Code != "frsh" {
			t.Errorf("unexpected identifiers: %+v", p)
		}
		if len(collisions) != 2 || collisions[0] != NamespaceLink || collisions[1] != NamespacePickup {
			t.Errorf("unexpected collisions: %v", collisions)
		}

		// Existing mappings are untouched.
		if got, _ := r.ResolveLink("taken00000000000"); got.Name != "a" {
			t.Errorf("existing link was overwritten: %+v", got)
		}
	})

	t.Run("reserved identifiers are not handed out twice", func(t *testing.T) {
		r := New()
		gen := &scriptedGen{links: []string{"same", "same", "other"}}

		first, err := r.MintLink(gen)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := r.MintLink(gen)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if first == second {
			t.Errorf("expected distinct tokens, both %q", first)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		r := New(WithMaxMintAttempts(3))
		r.Register("dup", Target{})
		gen := &scriptedGen{links: []string{"dup", "dup", "dup", "never"}}

		if _, err := r.MintLink(gen); !errors.Is(err, ErrExhausted) {
			t.Errorf("expected ErrExhausted, got %v", err)
		}
	})

	t.Run("generator errors abort", func(t *testing.T) {
		r := New()
		if _, err := r.MintLink(&scriptedGen{}); err == nil {
			t.Error("expected generator error")
		}
	})

	t.Run("failed pickup releases link reservation", func(t *testing.T) {
		r := New()
		gen := &scriptedGen{links: []string{"lonely0000000000"}}

		if _, err := r.Reserve(gen); err == nil {
			t.Fatal("expected error when pickup generation fails")
		}
		if s := r.Stats(); s.Reserved != 0 {
			t.Errorf("expected no reservations left, got %d", s.Reserved)
		}
	})
}

func TestRegistry_CommitAndRelease(t *testing.T) {
	t.Run("commit makes both identifiers resolvable", func(t *testing.T) {
		r := New()
		p, err := r.Reserve(token.Default)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := r.ResolveLink(p.Token); !errors.Is(err, ErrNotFound) {
			t.Error("reserved token must not resolve before commit")
		}

		url := "http://localhost:6789/download/zip/" + string(p.Token)
		target := Target{Name: string(p.Token) + ".zip", Kind: KindArchive, Files: []string{"a.txt", "b.txt"}}
		if err := r.Commit(p, target, url); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		got, err := r.ResolveLink(p.Token)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Name != target.Name || got.Kind != KindArchive {
			t.Errorf("unexpected target: %+v", got)
		}
		gotURL, err := r.ResolvePickup(p.Code)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotURL != url {
			t.Errorf("expected %s, got %s", url, gotURL)
		}

		if s := r.Stats(); s.Links != 1 || s.Pickups != 1 || s.Reserved != 0 {
			t.Errorf("unexpected stats: %+v", s)
		}
	})

	t.Run("released identifiers cannot be committed", func(t *testing.T) {
		r := New()
		p, err := r.Reserve(token.Default)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		r.Release(p)

		if err := r.Commit(p, Target{Name: "x"}, "http://x"); !errors.Is(err, ErrNotReserved) {
			t.Errorf("expected ErrNotReserved, got %v", err)
		}
		if _, err := r.ResolveLink(p.Token); !errors.Is(err, ErrNotFound) {
			t.Error("released token must not resolve")
		}
		if _, err := r.ResolvePickup(p.Code); !errors.Is(err, ErrNotFound) {
			t.Error("released code must not resolve")
		}
	})
}

func TestRegistry_Reset(t *testing.T) {
	r := New()
	r.Register("tok", Target{Name: "a"})
	r.RegisterPickup("code", "http://x")
	if _, err := r.Reserve(token.Default); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.Reset()

	if s := r.Stats(); s != (Stats{}) {
		t.Errorf("expected empty registry, got %+v", s)
	}
	if _, err := r.ResolveLink("tok"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after reset, got %v", err)
	}
}

func TestRegistry_Sweep(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	r := New(WithClock(func() time.Time { return now }))

	gen := &scriptedGen{
		links:   []string{"old0000000000000", "new0000000000000"},
		pickups: []string{"old0", "new0"},
	}

	oldP, _ := r.Reserve(gen)
	if err := r.Commit(oldP, Target{Name: "old.txt", Kind: KindFile}, "http://x/old"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	now = base.Add(2 * time.Hour)
	newP, _ := r.Reserve(gen)
	if err := r.Commit(newP, Target{Name: "new.txt", Kind: KindFile}, "http://x/new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	evicted := r.Sweep(base.Add(time.Hour))
	if len(evicted) != 1 || evicted[0].Name != "old.txt" {
		t.Fatalf("expected old.txt to be evicted, got %+v", evicted)
	}

	if _, err := r.ResolveLink(oldP.Token); !errors.Is(err, ErrNotFound) {
		t.Error("evicted link still resolves")
	}
	if _, err := r.ResolvePickup(oldP.Code); !errors.Is(err, ErrNotFound) {
		t.Error("evicted pickup still resolves")
	}
	if _, err := r.ResolveLink(newP.Token); err != nil {
		t.Errorf("fresh link was evicted: %v", err)
	}
	if r.InUse("old.txt") {
		t.Error("old.txt should no longer be in use")
	}
	if !r.InUse("new.txt") {
		t.Error("new.txt should still be in use")
	}

	t.Run("retired identifiers are never minted again", func(t *testing.T) {
		gen := &scriptedGen{
			links:   []string{string(oldP.Token), "next000000000000"},
			pickups: []string{string(oldP.Code), "nxt0"},
		}
		p, err := r.Reserve(gen)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Token == oldP.Token || p.Code == oldP.Code {
			t.Errorf("retired identifier re-minted: %+v", p)
		}
	})
}

func TestRegistry_ConcurrentReserveCommit(t *testing.T) {
	r := New(WithClock(fixedClock(time.Now())))

	const workers = 50
	var wg sync.WaitGroup
	results := make(chan Pending, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.Reserve(token.Default)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			name := fmt.Sprintf("file%d.txt", i)
			if err := r.Commit(p, Target{Name: name, Kind: KindFile}, "http://x/"+name); err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results <- p
		}(i)
	}
	wg.Wait()
	close(results)

	tokens := make(map[LinkToken]bool)
	codes := make(map[PickupCode]bool)
	for p := range results {
		if tokens[p.Token] || codes[p.Code] {
			t.Errorf("duplicate identifier: %+v", p)
		}
		tokens[p.Token] = true
		codes[p.Code] = true

		target, err := r.ResolveLink(p.Token)
		if err != nil {
			t.Errorf("token %s does not resolve: %v", p.Token, err)
			continue
		}
		url, _ := r.ResolvePickup(p.Code)
		if url != "http://x/"+target.Name {
			t.Errorf("pickup %s points at %s, link at %s", p.Code, url, target.Name)
		}
	}
	if len(tokens) != workers {
		t.Errorf("expected %d transfers, got %d", workers, len(tokens))
	}
}

func TestRegistry_HeldNames(t *testing.T) {
	t.Run("held names count as in use until every hold is dropped", func(t *testing.T) {
		r := New()
		r.Hold("a.txt")
		r.Hold("a.txt")

		if !r.InUse("a.txt") {
			t.Fatal("expected held name to be in use")
		}
		r.Unhold("a.txt")
		if !r.InUse("a.txt") {
			t.Fatal("expected name to stay in use while another upload holds it")
		}
		r.Unhold("a.txt")
		if r.InUse("a.txt") {
			t.Error("expected name to be free after the last hold is dropped")
		}

		r.Unhold("a.txt")
		r.Hold("a.txt")
		if !r.InUse("a.txt") {
			t.Error("extra Unhold must not leave a negative count behind")
		}
	})

	t.Run("discard skips held and linked names", func(t *testing.T) {
		r := New()
		r.Hold("held.txt")
		r.Register("AbCdEfGhIjKlMnOp", Target{Name: "linked.txt", Kind: KindFile})

		var removed []string
		remove := func(name string) error {
			removed = append(removed, name)
			return nil
		}
		for _, name := range []string{"held.txt", "linked.txt", "orphan.txt"} {
			ran, err := r.Discard(name, remove)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ran != (name == "orphan.txt") {
				t.Errorf("Discard(%q) ran = %v", name, ran)
			}
		}
		if len(removed) != 1 || removed[0] != "orphan.txt" {
			t.Errorf("expected only orphan.txt removed, got %v", removed)
		}
	})

	t.Run("discard returns the removal error", func(t *testing.T) {
		r := New()
		boom := errors.New("disk gone")

		ran, err := r.Discard("x.txt", func(string) error { return boom })
		if !ran || !errors.Is(err, boom) {
			t.Errorf("expected removal to run and fail, got ran=%v err=%v", ran, err)
		}
	})

	t.Run("hold waits for a discard in progress", func(t *testing.T) {
		r := New()
		removing := make(chan struct{})
		finish := make(chan struct{})
		done := make(chan struct{})

		go func() {
			defer close(done)
			r.Discard("a.txt", func(string) error {
				close(removing)
				<-finish
				return nil
			})
		}()
		<-removing

		held := make(chan struct{})
		go func() {
			r.Hold("a.txt")
			close(held)
		}()

		select {
		case <-held:
			t.Fatal("Hold returned while the removal was still running")
		case <-time.After(50 * time.Millisecond):
		}

		close(finish)
		<-done
		<-held
		if !r.InUse("a.txt") {
			t.Error("expected name to be held after the removal finished")
		}
	})

	t.Run("reset drops held names", func(t *testing.T) {
		r := New()
		r.Hold("a.txt")
		r.Reset()

		if r.InUse("a.txt") {
			t.Error("expected reset to drop held names")
		}
	})
}
