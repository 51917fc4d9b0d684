package core

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/box"
)

// Identity is the durable application identity of this installation.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	PubKey      string `json:"pub_key"`
	PrivKey     string `json:"priv_key"`
}

// GenerateIdentity creates a fresh persistent id and Curve25519 keypair.
func GenerateIdentity(displayName string) (Identity, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return Identity{
		ID:          uuid.New().String(),
		DisplayName: displayName,
		PubKey:      hex.EncodeToString(pub[:]),
		PrivKey:     hex.EncodeToString(priv[:]),
	}, nil
}

// Keys decodes the hex keypair. ok is false when either key is missing or malformed.
func (id Identity) Keys() (pub, priv *[32]byte, ok bool) {
	pub, ok = DecodeKey(id.PubKey)
	if !ok {
		return nil, nil, false
	}
	priv, ok = DecodeKey(id.PrivKey)
	if !ok {
		return nil, nil, false
	}
	return pub, priv, true
}

// DecodeKey parses a hex encoded 32 byte key.
func DecodeKey(s string) (*[32]byte, bool) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return nil, false
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, true
}

// GenerateMessageID creates an ID from sender, content, timestamp and a random
// nonce, so identical messages sent at the same instant stay distinct.
func GenerateMessageID(senderID, content string, ts int64) string {
	input := fmt.Sprintf("%s:%s:%d:%s", senderID, content, ts, uuid.NewString())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// IdentityDelimiter separates the display name from the persistent id in an advertised token.
const IdentityDelimiter = "|"

var (
	tokenEscaper   = strings.NewReplacer("%", "%25", IdentityDelimiter, "%7C")
	tokenUnescaper = strings.NewReplacer("%7C", IdentityDelimiter, "%7c", IdentityDelimiter, "%25", "%")
)

// Resolved is what a remote advertisement tells us about its owner.
type Resolved struct {
	DisplayName  string
	PersistentID string
}

func (r Resolved) HasPersistentID() bool {
	return r.PersistentID != ""
}

// BuildIdentity encodes name and id into the advertised endpoint name.
func BuildIdentity(name, id string) string {
	if id == "" {
		return tokenEscaper.Replace(name)
	}
	return tokenEscaper.Replace(name) + IdentityDelimiter + tokenEscaper.Replace(id)
}

// ParseIdentity splits a token on its first delimiter. Tokens without one come
// from older peers that only advertise a display name.
func ParseIdentity(token string) Resolved {
	name, id, found := strings.Cut(token, IdentityDelimiter)
	if !found {
		return Resolved{DisplayName: tokenUnescaper.Replace(token)}
	}
	return Resolved{
		DisplayName:  tokenUnescaper.Replace(name),
		PersistentID: tokenUnescaper.Replace(id),
	}
}
