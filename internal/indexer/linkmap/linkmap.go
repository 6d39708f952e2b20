// Package linkmap turns backend download links into opaque tokens that can
// only be redeemed through the host that issued them.
package linkmap

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/slipstream/indexhub/internal/indexer"
)

const (
	// tokenVersion prefixes every sealed payload so the format can change.
	tokenVersion byte = 1

	keyLength = chacha20poly1305.KeySize
	hkdfInfo  = "indexhub link mapper v1"
)

var (
	ErrEmptySecret = errors.New("link secret is empty")
	ErrEmptyLink   = errors.New("link is empty")
)

// Payload is what a token carries.
type Payload struct {
	Link      string `json:"l"`
	BackendID int64  `json:"i"`
	Title     string `json:"t,omitempty"`
	// Source names the client the link was issued to, e.g. "Sonarr".
	Source string `json:"s,omitempty"`
}

// Mapper seals and opens download links. It holds no mutable state and is
// safe for concurrent use.
type Mapper struct {
	aead   cipher.AEAD
	macKey []byte
}

// New derives the sealing and nonce keys from secret.
func New(secret string) (*Mapper, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	encKey := make([]byte, keyLength)
	if _, err := io.ReadFull(kdf, encKey); err != nil {
		return nil, fmt.Errorf("failed to derive link key: %w", err)
	}
	macKey := make([]byte, sha256.Size)
	if _, err := io.ReadFull(kdf, macKey); err != nil {
		return nil, fmt.Errorf("failed to derive nonce key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, err
	}
	return &Mapper{aead: aead, macKey: macKey}, nil
}

// Encode seals p, bound to host. The same input always yields the same
// token.
func (m *Mapper) Encode(p Payload, host string) (string, error) {
	if p.Link == "" {
		return "", indexer.NewInvalidRequestError(ErrEmptyLink.Error())
	}

	plaintext, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	ad := associatedData(host)
	nonce := m.nonce(ad, plaintext)

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+m.aead.Overhead())
	out = append(out, tokenVersion)
	out = append(out, nonce...)
	out = m.aead.Seal(out, nonce, plaintext, ad)

	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decode opens a token presented through host. Malformed tokens, tokens
// sealed with another secret and tokens issued for another host all fail
// with a LinkInvalid error.
func (m *Mapper) Decode(token, host string) (*Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, indexer.NewLinkInvalidError("malformed link token", err)
	}

	nonceSize := m.aead.NonceSize()
	if len(raw) < 1+nonceSize+m.aead.Overhead() {
		return nil, indexer.NewLinkInvalidError("link token too short", nil)
	}
	if raw[0] != tokenVersion {
		return nil, indexer.NewLinkInvalidError(fmt.Sprintf("unknown link token version %d", raw[0]), nil)
	}

	nonce := raw[1 : 1+nonceSize]
	plaintext, err := m.aead.Open(nil, nonce, raw[1+nonceSize:], associatedData(host))
	if err != nil {
		return nil, indexer.NewLinkInvalidError("link token was not issued for this host", err)
	}

	var p Payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, indexer.NewLinkInvalidError("corrupt link payload", err)
	}
	if p.Link == "" {
		return nil, indexer.NewLinkInvalidError("link token carries no link", nil)
	}
	return &p, nil
}

func (m *Mapper) nonce(ad, plaintext []byte) []byte {
	mac := hmac.New(sha256.New, m.macKey)
	mac.Write(ad)
	mac.Write([]byte{0})
	mac.Write(plaintext)
	return mac.Sum(nil)[:m.aead.NonceSize()]
}

// associatedData normalizes a host so "API.example:443" and "api.example"
// bind the same way.
func associatedData(host string) []byte {
	return []byte(NormalizeHost(host))
}

// NormalizeHost lowercases host and strips a port.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}

// ProxyURL builds the public download URL for a token.
func ProxyURL(serverURL string, backendID int64, token, file string) string {
	q := url.Values{}
	q.Set("link", token)
	q.Set("file", file)
	return strings.TrimRight(serverURL, "/") + "/api/v1/indexer/" + strconv.FormatInt(backendID, 10) + "/download?" + q.Encode()
}

// MapRelease rewrites the download and magnet links of r to proxy URLs.
// Releases without links are left untouched.
func (m *Mapper) MapRelease(r *indexer.Release, caller indexer.Caller) error {
	if caller.ServerURL == "" {
		return nil
	}
	file := SafeFileName(r.Title)
	payload := Payload{BackendID: r.BackendID, Title: r.Title, Source: caller.Source}

	if r.DownloadURL != "" {
		payload.Link = r.DownloadURL
		token, err := m.Encode(payload, caller.Host)
		if err != nil {
			return err
		}
		r.DownloadURL = ProxyURL(caller.ServerURL, r.BackendID, token, file)
	}
	if r.MagnetURL != "" {
		payload.Link = r.MagnetURL
		token, err := m.Encode(payload, caller.Host)
		if err != nil {
			return err
		}
		r.MagnetURL = ProxyURL(caller.ServerURL, r.BackendID, token, file)
	}
	return nil
}

// SafeFileName strips characters that are not allowed in file names.
func SafeFileName(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			b.WriteRune('_')
		default:
			if r >= 0x20 {
				b.WriteRune(r)
			}
		}
	}
	name := strings.TrimSpace(b.String())
	if name == "" {
		return "download"
	}
	return name
}
