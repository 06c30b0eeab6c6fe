// Package registry maps link tokens to stored artifacts and pickup codes to
// download URLs. Entries live in process memory only.
package registry

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

var (
	ErrNotFound    = errors.New("identifier not found")
	ErrExhausted   = errors.New("could not mint a unique identifier")
	ErrNotReserved = errors.New("identifier is not reserved")
)

// LinkToken is the 16-character identifier embedded in download links.
type LinkToken string

// PickupCode is the 4-character identifier typed in by a recipient.
type PickupCode string

// Kind tells whether a link points at a single file or a bundled archive.
type Kind string

const (
	KindFile    Kind = "file"
	KindArchive Kind = "archive"
)

// Namespaces reported to the collision hook.
const (
	NamespaceLink   = "link"
	NamespacePickup = "pickup"
)

const (
	defaultMaxMintAttempts = 16
	defaultRetiredCapacity = 1_000_000
	defaultRetiredFPRate   = 0.001
)

// Target is what a link token resolves to.
type Target struct {
	Name      string // stored artifact name
	Kind      Kind
	Files     []string // stored names of the uploaded files
	Size      int64
	Checksum  string
	CreatedAt time.Time
}

// Uses reports whether the transfer refers to the stored artifact name.
func (t Target) Uses(name string) bool {
	return t.Name == name || slices.Contains(t.Files, name)
}

// Generator produces candidate identifiers. Uniqueness is the registry's
// job.
type Generator interface {
	Link() (string, error)
	Pickup() (string, error)
}

// Pending holds the identifiers reserved for one upload until it commits or
// aborts.
type Pending struct {
	Token LinkToken
	Code  PickupCode
}

// Stats is a point-in-time view of the registry size.
type Stats struct {
	Links    int
	Pickups  int
	Reserved int
}

type pickupEntry struct {
	url       string
	createdAt time.Time
}

// Registry is safe for concurrent use. Lookups share a read lock; every
// mutation takes the write lock.
type Registry struct {
	mu            sync.RWMutex
	links         map[LinkToken]Target
	pickups       map[PickupCode]pickupEntry
	reservedLinks map[LinkToken]struct{}
	reservedCodes map[PickupCode]struct{}

	// Stored names written by uploads that have not committed yet, with a
	// count per upload holding them. Guarded by namesMu, which is always
	// taken before mu.
	namesMu sync.Mutex
	held    map[string]int

	// Identifiers evicted by Sweep. Checked before minting so an expired
	// link never starts pointing at someone else's upload.
	retired *bloom.BloomFilter

	now             func() time.Time
	onCollision     func(namespace string)
	maxMintAttempts int
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for CreatedAt and Sweep.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithCollisionHook is called, under the registry lock, every time a
// freshly generated identifier was already taken.
func WithCollisionHook(fn func(namespace string)) Option {
	return func(r *Registry) { r.onCollision = fn }
}

// WithMaxMintAttempts bounds how many candidates a mint call tries.
func WithMaxMintAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxMintAttempts = n
		}
	}
}

// WithRetiredCapacity sizes the filter of evicted identifiers.
func WithRetiredCapacity(n uint, fpRate float64) Option {
	return func(r *Registry) {
		if n > 0 {
			r.retired = bloom.NewWithEstimates(n, fpRate)
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		links:           make(map[LinkToken]Target),
		pickups:         make(map[PickupCode]pickupEntry),
		reservedLinks:   make(map[LinkToken]struct{}),
		reservedCodes:   make(map[PickupCode]struct{}),
		held:            make(map[string]int),
		now:             time.Now,
		onCollision:     func(string) {},
		maxMintAttempts: defaultMaxMintAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retired == nil {
		r.retired = bloom.NewWithEstimates(defaultRetiredCapacity, defaultRetiredFPRate)
	}
	return r
}

// Register maps token to target, replacing any previous mapping.
func (r *Registry) Register(token LinkToken, target Target) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if target.CreatedAt.IsZero() {
		target.CreatedAt = r.now()
	}
	r.links[token] = target
}

// RegisterPickup maps code to url, replacing any previous mapping.
func (r *Registry) RegisterPickup(code PickupCode, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pickups[code] = pickupEntry{url: url, createdAt: r.now()}
}

// ResolveLink returns the target a token points at.
func (r *Registry) ResolveLink(token LinkToken) (Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target, ok := r.links[token]
	if !ok {
		return Target{}, ErrNotFound
	}
	return target, nil
}

// ResolvePickup returns the download URL a code points at.
func (r *Registry) ResolvePickup(code PickupCode) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.pickups[code]
	if !ok {
		return "", ErrNotFound
	}
	return entry.url, nil
}

// MintLink draws link tokens from gen until one is free and reserves it.
func (r *Registry) MintLink(gen Generator) (LinkToken, error) {
	for range r.maxMintAttempts {
		candidate, err := gen.Link()
		if err != nil {
			return "", err
		}
		token := LinkToken(candidate)

		r.mu.Lock()
		_, live := r.links[token]
		_, reserved := r.reservedLinks[token]
		if live || reserved || r.retired.TestString(retiredKey(NamespaceLink, candidate)) {
			r.onCollision(NamespaceLink)
			r.mu.Unlock()
			continue
		}
		r.reservedLinks[token] = struct{}{}
		r.mu.Unlock()
		return token, nil
	}
	return "", ErrExhausted
}

// MintPickup draws pickup codes from gen until one is free and reserves it.
func (r *Registry) MintPickup(gen Generator) (PickupCode, error) {
	for range r.maxMintAttempts {
		candidate, err := gen.Pickup()
		if err != nil {
			return "", err
		}
		code := PickupCode(candidate)

		r.mu.Lock()
		_, live := r.pickups[code]
		_, reserved := r.reservedCodes[code]
		if live || reserved || r.retired.TestString(retiredKey(NamespacePickup, candidate)) {
			r.onCollision(NamespacePickup)
			r.mu.Unlock()
			continue
		}
		r.reservedCodes[code] = struct{}{}
		r.mu.Unlock()
		return code, nil
	}
	return "", ErrExhausted
}

// Reserve mints a link token and a pickup code for one upload.
func (r *Registry) Reserve(gen Generator) (Pending, error) {
	token, err := r.MintLink(gen)
	if err != nil {
		return Pending{}, err
	}
	code, err := r.MintPickup(gen)
	if err != nil {
		r.Release(Pending{Token: token})
		return Pending{}, err
	}
	return Pending{Token: token, Code: code}, nil
}

// Commit makes both reserved identifiers resolvable in one step. Nothing is
// installed unless both reservations are still held.
func (r *Registry) Commit(p Pending, target Target, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, tokenHeld := r.reservedLinks[p.Token]
	_, codeHeld := r.reservedCodes[p.Code]
	if !tokenHeld || !codeHeld {
		return ErrNotReserved
	}
	delete(r.reservedLinks, p.Token)
	delete(r.reservedCodes, p.Code)

	now := r.now()
	if target.CreatedAt.IsZero() {
		target.CreatedAt = now
	}
	r.links[p.Token] = target
	r.pickups[p.Code] = pickupEntry{url: url, createdAt: target.CreatedAt}
	return nil
}

// Release drops the reservations of an aborted upload. Committed entries
// are not touched.
func (r *Registry) Release(p Pending) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.reservedLinks, p.Token)
	delete(r.reservedCodes, p.Code)
}

// Reset forgets every mapping, reservation, held name and retired
// identifier.
func (r *Registry) Reset() {
	r.namesMu.Lock()
	defer r.namesMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.held)
	clear(r.links)
	clear(r.pickups)
	clear(r.reservedLinks)
	clear(r.reservedCodes)
	r.retired.ClearAll()
}

// Sweep evicts entries created before cutoff and returns the evicted link
// targets. Evicted identifiers are retired and never minted again.
func (r *Registry) Sweep(cutoff time.Time) []Target {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Target
	for token, target := range r.links {
		if !target.CreatedAt.Before(cutoff) {
			continue
		}
		delete(r.links, token)
		r.retired.AddString(retiredKey(NamespaceLink, string(token)))
		evicted = append(evicted, target)
	}
	for code, entry := range r.pickups {
		if !entry.createdAt.Before(cutoff) {
			continue
		}
		delete(r.pickups, code)
		r.retired.AddString(retiredKey(NamespacePickup, string(code)))
	}
	return evicted
}

// Hold marks a stored name as written by an upload that has not committed
// yet. Call it before writing the name; it waits for a Discard of the same
// name that is in progress.
func (r *Registry) Hold(name string) {
	r.namesMu.Lock()
	defer r.namesMu.Unlock()
	r.held[name]++
}

// Unhold drops one hold per name, after the upload committed or aborted.
func (r *Registry) Unhold(names ...string) {
	r.namesMu.Lock()
	defer r.namesMu.Unlock()
	for _, name := range names {
		r.unhold(name)
	}
}

func (r *Registry) unhold(name string) {
	switch n := r.held[name]; {
	case n > 1:
		r.held[name] = n - 1
	case n == 1:
		delete(r.held, name)
	}
}

// InUse reports whether a live link or an uncommitted upload still refers
// to the stored name.
func (r *Registry) InUse(name string) bool {
	r.namesMu.Lock()
	defer r.namesMu.Unlock()
	return r.inUse(name)
}

func (r *Registry) inUse(name string) bool {
	if r.held[name] > 0 {
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, target := range r.links {
		if target.Uses(name) {
			return true
		}
	}
	return false
}

// Discard calls remove for name unless a live link or an uncommitted upload
// refers to it, and reports whether remove ran. The check and the removal
// are atomic with respect to Hold, so a name held after the check is
// written only once the removal has finished.
func (r *Registry) Discard(name string, remove func(name string) error) (bool, error) {
	r.namesMu.Lock()
	defer r.namesMu.Unlock()

	if r.inUse(name) {
		return false, nil
	}
	return true, remove(name)
}

// Stats returns the current registry size.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Links:    len(r.links),
		Pickups:  len(r.pickups),
		Reserved: len(r.reservedLinks) + len(r.reservedCodes),
	}
}

func retiredKey(namespace, id string) string {
	return namespace + ":" + id
}
