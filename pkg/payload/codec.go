package payload

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"
)

// Transport is the physical channel a payload travels over.
type Transport string

const (
	TransportQR  Transport = "qr"
	TransportNFC Transport = "nfc"
)

// QRPrefix tags QR text so scanners can reject foreign codes before decoding.
const QRPrefix = "POSPAY1:"

// FormatVersion is the payload layout version written into every payload.
const FormatVersion = 1

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrInvalidSignature = errors.New("invalid payload signature")
	ErrPayloadExpired   = errors.New("payload expired")
	ErrNoSigningKey     = errors.New("codec has no signing key")
)

var (
	amountPattern   = regexp.MustCompile(`^[0-9]{1,15}(\.[0-9]{1,2})?$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// SignedPayload is the point-in-time snapshot of a payment request carried by a QR
// code or NFC tag. It identifies the request; it is never the source of truth for
// amount or expiry when crediting.
type SignedPayload struct {
	Version      int       `json:"v"`
	RequestID    uuid.UUID `json:"requestId"`
	MerchantID   uuid.UUID `json:"merchantId"`
	MerchantName string    `json:"merchantName,omitempty"`
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	Note         string    `json:"note,omitempty"`
	ExpiresAt    int64     `json:"expiresAt"`
	Signature    string    `json:"signature"`
}

// ExpiresAtTime returns the embedded expiry as a time.
func (p *SignedPayload) ExpiresAtTime() time.Time {
	return time.Unix(p.ExpiresAt, 0).UTC()
}

// signingInput is requestId|merchantId|amount|currency|expiresAt. Field shapes are
// validated before this is built, so none of them can contain the delimiter.
func (p *SignedPayload) signingInput() []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%d",
		p.RequestID, p.MerchantID, p.Amount, p.Currency, p.ExpiresAt))
}

func (p *SignedPayload) validate() error {
	switch {
	case p.RequestID == uuid.Nil:
		return fmt.Errorf("%w: requestId is required", ErrMalformedPayload)
	case p.MerchantID == uuid.Nil:
		return fmt.Errorf("%w: merchantId is required", ErrMalformedPayload)
	case !amountPattern.MatchString(p.Amount):
		return fmt.Errorf("%w: amount %q", ErrMalformedPayload, p.Amount)
	case !currencyPattern.MatchString(p.Currency):
		return fmt.Errorf("%w: currency %q", ErrMalformedPayload, p.Currency)
	case p.ExpiresAt <= 0:
		return fmt.Errorf("%w: expiresAt is required", ErrMalformedPayload)
	}
	return nil
}

// Codec signs and verifies payloads. A codec built from public keys only can
// decode and verify but not encode.
type Codec struct {
	keyID  string
	signer jose.Signer
	public map[string]ed25519.PublicKey
}

// NewCodec builds a signing codec for priv, published under keyID.
func NewCodec(priv ed25519.PrivateKey, keyID string) (*Codec, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 private key size %d", len(priv))
	}
	if keyID == "" {
		return nil, errors.New("key id is required")
	}

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.EdDSA,
		Key:       jose.JSONWebKey{Key: priv, KeyID: keyID},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	return &Codec{
		keyID:  keyID,
		signer: signer,
		public: map[string]ed25519.PublicKey{keyID: priv.Public().(ed25519.PublicKey)},
	}, nil
}

// NewVerifier builds a verify-only codec from published JWKs.
func NewVerifier(keys ...jose.JSONWebKey) (*Codec, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one verification key is required")
	}
	c := &Codec{public: make(map[string]ed25519.PublicKey, len(keys))}
	for _, k := range keys {
		pub, ok := k.Key.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("key %q is not an ed25519 public key", k.KeyID)
		}
		if k.KeyID == "" {
			return nil, errors.New("verification key without kid")
		}
		c.public[k.KeyID] = pub
	}
	return c, nil
}

// ParseJWK parses a single JSON Web Key as served by the signing-key endpoint.
func ParseJWK(data []byte) (jose.JSONWebKey, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(data); err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("parse jwk: %w", err)
	}
	if !jwk.Valid() {
		return jose.JSONWebKey{}, errors.New("parse jwk: invalid key")
	}
	return jwk, nil
}

// PublicJWK returns the verification key of a signing codec.
func (c *Codec) PublicJWK() (jose.JSONWebKey, error) {
	if c.signer == nil {
		return jose.JSONWebKey{}, ErrNoSigningKey
	}
	return jose.JSONWebKey{
		Key:       c.public[c.keyID],
		KeyID:     c.keyID,
		Algorithm: string(jose.EdDSA),
		Use:       "sig",
	}, nil
}

// Encode fills in the version and signature of p. The input is not modified.
func (c *Codec) Encode(p SignedPayload) (*SignedPayload, error) {
	if c.signer == nil {
		return nil, ErrNoSigningKey
	}
	p.Version = FormatVersion
	p.Signature = ""
	if err := p.validate(); err != nil {
		return nil, err
	}

	obj, err := c.signer.Sign(p.signingInput())
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	sig, err := obj.DetachedCompactSerialize()
	if err != nil {
		return nil, fmt.Errorf("serialize signature: %w", err)
	}
	p.Signature = sig
	return &p, nil
}

// Marshal renders a signed payload for the given transport.
func Marshal(p *SignedPayload, t Transport) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	switch t {
	case TransportQR:
		return QRPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
	case TransportNFC:
		return string(raw), nil
	default:
		return "", fmt.Errorf("unknown transport %q", t)
	}
}

// Parse recognizes the transport and parses the payload without verifying it.
func Parse(raw string) (*SignedPayload, Transport, error) {
	raw = strings.TrimSpace(raw)

	var (
		body []byte
		t    Transport
	)
	switch {
	case strings.HasPrefix(raw, QRPrefix):
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(raw, QRPrefix))
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		body, t = decoded, TransportQR
	case strings.HasPrefix(raw, "{"):
		body, t = []byte(raw), TransportNFC
	default:
		return nil, "", fmt.Errorf("%w: unrecognized transport", ErrMalformedPayload)
	}

	var p SignedPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Version != FormatVersion {
		return nil, "", fmt.Errorf("%w: unsupported version %d", ErrMalformedPayload, p.Version)
	}
	if err := p.validate(); err != nil {
		return nil, "", err
	}
	if p.Signature == "" {
		return nil, "", fmt.Errorf("%w: signature is required", ErrMalformedPayload)
	}
	return &p, t, nil
}

// Decode parses raw QR text or NFC record content and verifies its signature.
// No field of the result is trusted before verification succeeds.
func (c *Codec) Decode(raw string) (*SignedPayload, error) {
	p, _, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := c.Verify(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Verify checks the detached signature of p against the known keys.
func (c *Codec) Verify(p *SignedPayload) error {
	jws, err := jose.ParseDetached(p.Signature, p.signingInput())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(jws.Signatures) != 1 {
		return fmt.Errorf("%w: expected one signature", ErrInvalidSignature)
	}

	header := jws.Signatures[0].Header
	if header.Algorithm != string(jose.EdDSA) {
		return fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidSignature, header.Algorithm)
	}
	pub, ok := c.public[header.KeyID]
	if !ok {
		return fmt.Errorf("%w: unknown key %q", ErrInvalidSignature, header.KeyID)
	}
	if _, err := jws.Verify(pub); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// CheckFresh rejects a payload whose embedded expiry already passed. This is a
// local shortcut only; the server decides expiry.
func CheckFresh(p *SignedPayload, now time.Time) error {
	if !now.Before(p.ExpiresAtTime()) {
		return ErrPayloadExpired
	}
	return nil
}
