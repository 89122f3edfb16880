package core

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// CryptDEReal is the production CryptDE implementation, substituted in for
// CryptDENull without any caller change (spec §4.1: "real cryptographic
// implementation substitutes without changing any caller"). Encryption uses
// anonymous NaCl box sealing (golang.org/x/crypto/nacl/box); signing uses
// ed25519. A node's advertised PublicKey is the 64-byte concatenation of its
// Curve25519 box key and its ed25519 verification key, so any holder of the
// advertised key can both Encode-to and VerifySignature-against that node
// without an out-of-band second channel.
type CryptDEReal struct {
	boxPriv  [32]byte
	boxPub   [32]byte
	signPriv ed25519.PrivateKey
	signPub  ed25519.PublicKey
}

var _ CryptDE = (*CryptDEReal)(nil)

const realPublicKeyLen = 32 + ed25519.PublicKeySize

// NewCryptDEReal generates a fresh identity.
func NewCryptDEReal() (*CryptDEReal, error) {
	c := &CryptDEReal{}
	if err := c.GenerateKeyPair(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CryptDEReal) GenerateKeyPair() error {
	pub, priv, err := box.GenerateKey(crand.Reader)
	if err != nil {
		return err
	}
	c.boxPub, c.boxPriv = *pub, *priv

	signPub, signPriv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return err
	}
	c.signPub, c.signPriv = signPub, signPriv
	return nil
}

func splitRealPublicKey(pubkey PublicKey) (boxPub [32]byte, signPub ed25519.PublicKey, err error) {
	if len(pubkey) != realPublicKeyLen {
		return boxPub, nil, NewInvalidKeyError(fmt.Sprintf("expected %d-byte combined key, got %d", realPublicKeyLen, len(pubkey)))
	}
	copy(boxPub[:], pubkey[:32])
	signPub = ed25519.PublicKey(append([]byte(nil), pubkey[32:]...))
	return boxPub, signPub, nil
}

func (c *CryptDEReal) Encode(pubkey PublicKey, plain PlainData) (CryptData, error) {
	if len(pubkey) == 0 {
		return nil, ErrEmptyKey
	}
	if len(plain) == 0 {
		return nil, ErrEmptyData
	}
	boxPub, _, err := splitRealPublicKey(pubkey)
	if err != nil {
		return nil, err
	}
	sealed, err := box.SealAnonymous(nil, plain, &boxPub, crand.Reader)
	if err != nil {
		return nil, err
	}
	return CryptData(sealed), nil
}

func (c *CryptDEReal) Decode(crypt CryptData) (PlainData, error) {
	if c.boxPriv == ([32]byte{}) {
		return nil, ErrEmptyKey
	}
	if len(crypt) == 0 {
		return nil, ErrEmptyData
	}
	out, ok := box.OpenAnonymous(nil, crypt, &c.boxPub, &c.boxPriv)
	if !ok {
		return nil, NewInvalidKeyError("nacl box open failed")
	}
	return PlainData(out), nil
}

func (c *CryptDEReal) Sign(plain PlainData) (CryptData, error) {
	if len(plain) == 0 {
		return nil, ErrEmptyData
	}
	sig := ed25519.Sign(c.signPriv, plain)
	return CryptData(sig), nil
}

func (c *CryptDEReal) VerifySignature(plain PlainData, sig CryptData, pubkey PublicKey) bool {
	_, signPub, err := splitRealPublicKey(pubkey)
	if err != nil {
		return false
	}
	return ed25519.Verify(signPub, plain, sig)
}

func (c *CryptDEReal) Hash(plain PlainData) CryptHash {
	return sha256.Sum256(plain)
}

func (c *CryptDEReal) Random(dest []byte) {
	_, _ = crand.Read(dest)
}

func (c *CryptDEReal) PublicKey() PublicKey {
	out := make(PublicKey, 0, realPublicKeyLen)
	out = append(out, c.boxPub[:]...)
	out = append(out, c.signPub...)
	return out
}

func (c *CryptDEReal) PrivateKey() PrivateKey {
	out := make(PrivateKey, 0, 32+ed25519.SeedSize)
	out = append(out, c.boxPriv[:]...)
	out = append(out, c.signPriv.Seed()...)
	return out
}

func (c *CryptDEReal) Dup() CryptDE {
	dup := *c
	dup.signPriv = append(ed25519.PrivateKey(nil), c.signPriv...)
	dup.signPub = append(ed25519.PublicKey(nil), c.signPub...)
	return &dup
}
