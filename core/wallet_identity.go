package core

// Identity wallet derivation (spec §4.9 / SPEC_FULL).
//
// Features
// --------
//   * Ed25519 key-pairs, Hierarchical Deterministic derivation (SLIP-0010).
//   * BIP-39 mnemonic utilities (12-/24-word human recovery phrases).
//   * Address derivation (20-byte SHA-256/RIPEMD-160), formatted as the
//     spec §3 Wallet type (0x-prefixed hex).
//
// This is the node's *earning wallet*; cmd/node generates one at boot when
// no wallet_address is configured (it is not persisted between boots). It
// is unrelated to the CORES identity keypair (CryptDE), which uses the
// deterministic stub cipher per spec §4.1.
//
// Adapted from the teacher's core/wallet.go HD wallet; transaction-signing
// helpers that depended on this repo's (absent) ledger/transaction types
// were dropped.

import (
	"crypto/ed25519"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/ripemd160"
)

const (
	hardenedOffset uint32 = 0x80000000
	masterHMACKey         = "ed25519 seed" // SLIP-0010 master-key string
)

// HDWallet keeps master key material in-memory only.
type HDWallet struct {
	seed        []byte
	masterKey   []byte
	masterChain []byte
	logger      *log.Logger
}

// Seed returns a copy of the wallet's master seed. Callers should securely
// wipe the returned slice after use.
func (w *HDWallet) Seed() []byte {
	out := make([]byte, len(w.seed))
	copy(out, w.seed)
	return out
}

// NewRandomWallet generates entropyBits (128/256) of RNG entropy, returns
// wallet + mnemonic. The caller MUST wipe the mnemonic or store it securely.
func NewRandomWallet(entropyBits int, logger *log.Logger) (*HDWallet, string, error) {
	if entropyBits != 128 && entropyBits != 256 {
		return nil, "", fmt.Errorf("unsupported entropy size %d", entropyBits)
	}
	if logger == nil {
		logger = log.New()
	}

	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, "", fmt.Errorf("entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", fmt.Errorf("mnemonic: %w", err)
	}
	seed := bip39.NewSeed(mnemonic, "")
	w, err := NewHDWalletFromSeed(seed, logger)
	if err != nil {
		return nil, "", err
	}
	return w, mnemonic, nil
}

// WalletFromMnemonic imports an existing BIP-39 phrase.
func WalletFromMnemonic(mnemonic, passphrase string, logger *log.Logger) (*HDWallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic checksum")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return NewHDWalletFromSeed(seed, logger)
}

func NewHDWalletFromSeed(seed []byte, logger *log.Logger) (*HDWallet, error) {
	if len(seed) < 16 {
		return nil, errors.New("seed too short")
	}
	if logger == nil {
		logger = log.New()
	}

	I := hmacSHA512([]byte(masterHMACKey), seed)
	w := &HDWallet{
		seed:        seed,
		masterKey:   I[:32],
		masterChain: I[32:],
		logger:      logger,
	}
	logger.Debugf("wallet: master key initialised (%d bytes seed)", len(seed))
	return w, nil
}

// derivePrivate returns the key material & new chain-code for a (hardened)
// index. Only hardened derivation is supported for ed25519.
func derivePrivate(parentKey, parentChain []byte, index uint32) (key, ccode []byte, err error) {
	if index < hardenedOffset {
		return nil, nil, errors.New("non-hardened derivation not supported for ed25519")
	}
	data := make([]byte, 1+32+4)
	copy(data[1:], parentKey)
	binary.BigEndian.PutUint32(data[33:], index)

	I := hmacSHA512(parentChain, data)
	return I[:32], I[32:], nil
}

func hmacSHA512(key, data []byte) []byte {
	h := hmac.New(sha512.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// PrivateKey returns the ed25519 keypair for derivation path m / account' / index'.
func (w *HDWallet) PrivateKey(account, index uint32) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	account |= hardenedOffset
	index |= hardenedOffset

	k1, c1, err := derivePrivate(w.masterKey, w.masterChain, account)
	if err != nil {
		return nil, nil, err
	}
	k2, _, err := derivePrivate(k1, c1, index)
	if err != nil {
		return nil, nil, err
	}
	priv := ed25519.NewKeyFromSeed(k2)
	pub := priv.Public().(ed25519.PublicKey)
	return priv, pub, nil
}

// walletAddressFromPub converts a 32-byte ed25519 public key into the spec
// §3 Wallet representation: SHA-256(pub) -> RIPEMD-160 -> 0x-prefixed hex.
func walletAddressFromPub(pub ed25519.PublicKey) Wallet {
	sha := sha256.Sum256(pub)
	r := ripemd160.New()
	r.Write(sha[:])
	addr := "0x" + hex.EncodeToString(r.Sum(nil))
	return Wallet{Address: addr}
}

// NewEarningWallet derives account+index and returns the corresponding
// spec §3 Wallet value for use as a node's earning wallet.
func (w *HDWallet) NewEarningWallet(account, index uint32) (Wallet, error) {
	_, pub, err := w.PrivateKey(account, index)
	if err != nil {
		return Wallet{}, err
	}
	return walletAddressFromPub(pub), nil
}

// RandomMnemonicEntropy produces cryptographically-secure random entropy of
// the given number of bits.
func RandomMnemonicEntropy(bits int) ([]byte, error) {
	if bits%32 != 0 {
		return nil, errors.New("entropy bits must be multiple of 32")
	}
	b := make([]byte, bits/8)
	if _, err := crand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Wipe zeroes a byte slice in-place (best-effort — GC might still copy).
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
