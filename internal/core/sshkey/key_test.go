package sshkey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A throwaway Ed25519 public key, generated for tests only.
const testPublicKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIGJl1BSHTNVGO3XNkGWSfqyLv0g+4pY2AcEhOoeS54Km test@example"

func TestParse(t *testing.T) {
	normalized, err := Parse(testPublicKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(normalized, "ssh-ed25519 "))
	assert.NotContains(t, normalized, "test@example", "comment is stripped")
}

func TestParse_Invalid(t *testing.T) {
	for _, bad := range []string{"", "not a key", "ssh-ed25519 notbase64!!"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidPublicKey, "input: %q", bad)
	}
}

func TestFingerprint(t *testing.T) {
	fp, err := Fingerprint(testPublicKey)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fp, "SHA256:"))

	// Same key material with different comment yields the same fingerprint.
	fp2, err := Fingerprint(strings.Replace(testPublicKey, "test@example", "other@host", 1))
	require.NoError(t, err)
	assert.Equal(t, fp, fp2)
}
