package core

import (
	"crypto/rand"
	"crypto/sha1"
	"fmt"
)

// CryptDENull is the deterministic stub cipher that is the spec baseline
// (spec §4.1): encode prefixes the recipient's derived "other key" bytes to
// the plaintext; decode verifies the prefix matches the local private key
// and strips it. It is sufficient for every seed test in spec §8 and is not
// intended to hide anything from an attacker who can read source code.
//
// Grounded on original_source/node/src/sub_lib/cryptde_null.rs.
type CryptDENull struct {
	privateKey PrivateKey
	publicKey  PublicKey
}

var _ CryptDE = (*CryptDENull)(nil)

// NewCryptDENull returns an uninitialized stub identity; callers typically
// follow with GenerateKeyPair or SetKeyPair (NewCryptDENullFromPublicKey
// does the latter in one call).
func NewCryptDENull() *CryptDENull {
	key := PrivateKey("uninitialized")
	return &CryptDENull{
		privateKey: key,
		publicKey:  nullPublicFromPrivate(key),
	}
}

// NewCryptDENullFromPublicKey builds a stub identity that knows only the
// given public key, deriving the matching private key deterministically —
// useful for constructing a temporary "encrypt to" handle.
func NewCryptDENullFromPublicKey(pub PublicKey) *CryptDENull {
	c := NewCryptDENull()
	c.SetKeyPair(pub)
	return c
}

// SetKeyPair installs pub as the public key and derives the matching
// private key via the stub's invertible transform.
func (c *CryptDENull) SetKeyPair(pub PublicKey) {
	c.publicKey = pub.Clone()
	c.privateKey = nullPrivateFromPublic(pub)
}

func nullOtherKeyData(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b + 128
	}
	return out
}

func nullPrivateFromPublic(pub PublicKey) PrivateKey { return PrivateKey(nullOtherKeyData(pub)) }
func nullPublicFromPrivate(priv PrivateKey) PublicKey { return PublicKey(nullOtherKeyData(priv)) }

func (c *CryptDENull) GenerateKeyPair() error {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	c.privateKey = PrivateKey(buf)
	c.publicKey = nullPublicFromPrivate(c.privateKey)
	return nil
}

func (c *CryptDENull) Encode(pubkey PublicKey, plain PlainData) (CryptData, error) {
	return nullEncodeWithKeyData([]byte(pubkey), plain)
}

func (c *CryptDENull) Decode(crypt CryptData) (PlainData, error) {
	return nullDecodeWithKeyData([]byte(c.privateKey), crypt)
}

func (c *CryptDENull) Random(dest []byte) {
	for i := range dest {
		dest[i] = '4'
	}
}

func (c *CryptDENull) PublicKey() PublicKey   { return c.publicKey }
func (c *CryptDENull) PrivateKey() PrivateKey { return c.privateKey }

func (c *CryptDENull) Dup() CryptDE {
	return &CryptDENull{privateKey: append(PrivateKey(nil), c.privateKey...), publicKey: c.publicKey.Clone()}
}

func (c *CryptDENull) Sign(plain PlainData) (CryptData, error) {
	hash := c.Hash(plain)
	return nullEncodeWithKeyData([]byte(c.privateKey), PlainData(hash[:]))
}

func (c *CryptDENull) VerifySignature(plain PlainData, sig CryptData, pubkey PublicKey) bool {
	claimedHash, err := nullDecodeWithKeyData([]byte(pubkey), sig)
	if err != nil {
		return false
	}
	actualHash := c.Hash(plain)
	return string(claimedHash) == string(actualHash[:])
}

func (c *CryptDENull) Hash(plain PlainData) CryptHash {
	return sha1Pad(plain)
}

// sha1Pad keeps CryptHash's fixed 32-byte shape while matching the
// original's 20-byte SHA-1 digest in the first 20 bytes (the last 12 bytes
// are zero).
func sha1Pad(plain PlainData) CryptHash {
	sum := sha1.Sum(plain)
	var out CryptHash
	copy(out[:], sum[:])
	return out
}

func nullEncodeWithKeyData(keyData []byte, data PlainData) (CryptData, error) {
	if len(keyData) == 0 {
		return nil, ErrEmptyKey
	}
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	other := nullOtherKeyData(keyData)
	out := make(CryptData, 0, len(other)+len(data))
	out = append(out, other...)
	out = append(out, data...)
	return out, nil
}

func nullDecodeWithKeyData(keyData []byte, data CryptData) (PlainData, error) {
	if len(keyData) == 0 {
		return nil, ErrEmptyKey
	}
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	if len(keyData) > len(data) {
		return nil, NewInvalidKeyError(nullInvalidKeyMessage(keyData, data))
	}
	k, d := data[:len(keyData)], data[len(keyData):]
	for i := range k {
		if k[i] != keyData[i] {
			return nil, NewInvalidKeyError(nullInvalidKeyMessage(keyData, data))
		}
	}
	return PlainData(d), nil
}

func nullInvalidKeyMessage(keyData []byte, data CryptData) string {
	prefixLen := len(keyData)
	if len(data) < prefixLen {
		prefixLen = len(data)
	}
	return fmt.Sprintf("could not decrypt with %v data beginning with %v", keyData, []byte(data[:prefixLen]))
}
