package identity

import "github.com/aretw0/trail/pkg/core"

// Versioned is implemented by values with mutable storage that bump a token on every write.
type Versioned interface {
	ProvVersion() uint64
}

// Unwrapper exposes the value held by a container such as Box.
type Unwrapper interface {
	ProvValue() any
}

// Hasher lets a value supply its own canonical byte representation.
type Hasher interface {
	ProvHash() ([]byte, error)
}

// Attributed values report attributes worth recording as metadata.
type Attributed interface {
	ProvAttributes() []core.NameValuePair
}

// Annotated values report free-form annotations.
type Annotated interface {
	ProvAnnotations() []core.NameValuePair
}

// memoizer is implemented by values that cache their own content hash.
type memoizer interface {
	provMemo(version uint64) (string, bool)
	setProvMemo(version uint64, hash string)
}

// Box holds a mutable value and counts writes, so that an in-place change is
// visible to the resolver even when the new content hashes like an old one.
// Writes must go through Set or Update.
//
// Box is not safe for concurrent use.
type Box[T any] struct {
	value   T
	version uint64

	hash     string
	hashedAt uint64
}

// NewBox wraps v at version 0.
func NewBox[T any](v T) *Box[T] {
	return &Box[T]{value: v}
}

// Get returns the current value.
func (b *Box[T]) Get() T { return b.value }

// Set replaces the value and bumps the version.
func (b *Box[T]) Set(v T) {
	b.value = v
	b.version++
}

// Update mutates the value in place and bumps the version.
func (b *Box[T]) Update(fn func(*T)) {
	fn(&b.value)
	b.version++
}

func (b *Box[T]) ProvVersion() uint64 { return b.version }

func (b *Box[T]) ProvValue() any { return b.value }

func (b *Box[T]) provMemo(version uint64) (string, bool) {
	return b.hash, b.hash != "" && b.hashedAt == version
}

func (b *Box[T]) setProvMemo(version uint64, hash string) {
	b.hash, b.hashedAt = hash, version
}
