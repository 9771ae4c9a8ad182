package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetadataKeyDeterminism(t *testing.T) {
	k1 := MetadataKey("PersonRepository.findByName", "select p from Person p where p.name = :name")
	k2 := MetadataKey("PersonRepository.findByName", "select p from Person p where p.name = :name")

	assert.Equal(t, k1, k2, "MetadataKey must be deterministic")
	assert.Len(t, k1, 64, "SHA-256 hex is 64 characters")
}

func TestMetadataKeyChangesWithInput(t *testing.T) {
	base := MetadataKey("Repo.m", "select p from Person p")

	assert.NotEqual(t, base, MetadataKey("Repo.n", "select p from Person p"), "different method")
	assert.NotEqual(t, base, MetadataKey("Repo.m", "select p from Person p order by p.age asc"), "different text")
}

func TestMetadataKeyFieldBoundaries(t *testing.T) {
	// Moving bytes across the method/text boundary must change the key.
	assert.NotEqual(t, MetadataKey("ab", "c"), MetadataKey("a", "bc"))
}

func TestHashWithDomainSeparation(t *testing.T) {
	assert.NotEqual(t,
		hashWithDomain("finder/a/v1", "x"),
		hashWithDomain("finder/b/v1", "x"),
		"domain must participate in the hash")
}
