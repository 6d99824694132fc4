// Package address derives consortium participant identifiers from freshly
// generated Ed25519 key pairs. An address is the last 20 bytes of the
// Keccak-256 digest of the public key, hex encoded with an EIP-55
// mixed-case checksum.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"go.dedis.ch/kyber/v4"
	"go.dedis.ch/kyber/v4/suites"
	"golang.org/x/crypto/sha3"
)

// Address errors
var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrBadChecksum    = errors.New("address checksum mismatch")
)

// Length is the number of bytes in an address.
const Length = 20

var suite suites.Suite = suites.MustFind("Ed25519")

// Generator produces fresh participant addresses.
type Generator interface {
	Generate() (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func() (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate() (string, error) {
	return f()
}

// KeyPair is a generated key pair. The private scalar is not retained.
type KeyPair struct {
	PublicKey []byte
	Address   string
}

// KeyGenerator generates addresses from random Ed25519 key pairs.
type KeyGenerator struct{}

// NewKeyGenerator creates a KeyGenerator.
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// Generate returns the address of a fresh key pair.
func (g *KeyGenerator) Generate() (string, error) {
	kp, err := g.GenerateKeyPair()
	if err != nil {
		return "", err
	}
	return kp.Address, nil
}

// GenerateKeyPair creates a key pair and derives its address.
func (g *KeyGenerator) GenerateKeyPair() (KeyPair, error) {
	private := suite.Scalar().Pick(suite.RandomStream())
	public := suite.Point().Mul(private, nil)
	return fromPoint(public)
}

func fromPoint(p kyber.Point) (KeyPair, error) {
	pub, err := p.MarshalBinary()
	if err != nil {
		return KeyPair{}, fmt.Errorf("marshal public key: %w", err)
	}
	return KeyPair{PublicKey: pub, Address: FromPublicKey(pub)}, nil
}

// FromPublicKey derives the checksummed address of a public key.
func FromPublicKey(pub []byte) string {
	digest := keccak256(pub)
	return checksum(hex.EncodeToString(digest[len(digest)-Length:]))
}

// Checksum normalises an address to its EIP-55 form.
func Checksum(addr string) (string, error) {
	raw, ok := strip(addr)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return checksum(strings.ToLower(raw)), nil
}

// Validate reports whether addr is well formed. All-lowercase and
// all-uppercase addresses carry no checksum and are accepted; mixed-case
// addresses must match their EIP-55 checksum.
func Validate(addr string) error {
	raw, ok := strip(addr)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	if raw == strings.ToLower(raw) || raw == strings.ToUpper(raw) {
		return nil
	}
	if checksum(strings.ToLower(raw)) != "0x"+raw {
		return fmt.Errorf("%w: %q", ErrBadChecksum, addr)
	}
	return nil
}

// IsValid is Validate as a predicate.
func IsValid(addr string) bool {
	return Validate(addr) == nil
}

func strip(addr string) (string, bool) {
	raw, found := strings.CutPrefix(addr, "0x")
	if !found || len(raw) != 2*Length {
		return "", false
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", false
	}
	return raw, true
}

// checksum applies EIP-55 casing to a lowercase hex address body.
func checksum(lower string) string {
	digest := keccak256([]byte(lower))
	out := make([]byte, len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if c >= 'a' && c <= 'f' && nibble&0x0f >= 8 {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return "0x" + string(out)
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
