/*
Package security provides the cryptographic helpers used by the operator.

# Value encryption

SecretsManager seals values at rest with AES-256-GCM. A passphrase is
stretched into the key with argon2id. Sealed values carry a version byte
and the nonce ahead of the ciphertext:

	sm, _ := security.NewSecretsManagerFromPassword(passphrase)
	sealed, _ := sm.Seal([]byte("secret"))
	plain, _ := sm.Open(sealed)

storage.BoltStore accepts a SecretsManager so credentials never hit the
peer database in the clear.

# Credentials

GeneratePassword returns alphanumeric secrets from crypto/rand. Both
generated passwords and hashing salts use it, so values can be handed to
karapace_mkpasswd as plain arguments.

# Certificates

Unit TLS material is plain PEM throughout:

	keyPEM, _ := security.GenerateKey(security.UnitKeySize)
	csrPEM, _ := security.CreateCSR(keyPEM, "karapace-0", []string{"karapace-0.karapace", "10.0.0.4"})

CertAuthority is a self-signed root (RSA 4096, 10 years) that signs unit
requests for 90 days. It backs the local certificate provider when no
cluster issuer is available; its key can be sealed with a SecretsManager
before it is written to disk.
*/
package security
