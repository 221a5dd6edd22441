// Package sshkey validates SSH public key material and derives fingerprints.
// This is part of the Functional Core - all functions are pure with no I/O.
package sshkey

import (
	"errors"
	"strings"

	"golang.org/x/crypto/ssh"
)

var (
	// ErrInvalidPublicKey is returned when the key is not valid
	// authorized_keys format.
	ErrInvalidPublicKey = errors.New("invalid SSH public key format")
)

// Parse parses an OpenSSH authorized_keys format public key and returns the
// normalized key line (type + base64 material, comment stripped).
func Parse(publicKey string) (string, error) {
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(publicKey)))
	if err != nil {
		return "", ErrInvalidPublicKey
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key))), nil
}

// Fingerprint returns the SHA256 fingerprint of a public key in
// authorized_keys format, e.g. "SHA256:...".
func Fingerprint(publicKey string) (string, error) {
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(publicKey)))
	if err != nil {
		return "", ErrInvalidPublicKey
	}
	return ssh.FingerprintSHA256(key), nil
}
