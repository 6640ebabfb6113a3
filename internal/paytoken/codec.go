package paytoken

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"stronghold/internal/canonjson"
	"stronghold/internal/cryptoutil"
	"stronghold/internal/keyset"
)

// Verification result codes (§4.3), surfaced bit-exact to the caller.
const (
	CodeUnknownKid             = "NOOTERRA_PAY_UNKNOWN_KID"
	CodeSignatureInvalid       = "NOOTERRA_PAY_SIGNATURE_INVALID"
	CodePayloadInvalidCode     = "NOOTERRA_PAY_PAYLOAD_INVALID"
	CodeExpired                = "NOOTERRA_PAY_EXPIRED"
	CodeAudienceMismatch       = "NOOTERRA_PAY_AUDIENCE_MISMATCH"
	CodePayeeMismatch          = "NOOTERRA_PAY_PAYEE_MISMATCH"
	CodeRequestBindingMissing  = "NOOTERRA_PAY_REQUEST_BINDING_MISSING"
	CodeRequestBindingRequired = "NOOTERRA_PAY_REQUEST_BINDING_REQUIRED"
	CodeRequestBindingMismatch = "NOOTERRA_PAY_REQUEST_BINDING_MISMATCH"
)

const envelopeVersion = 1

// Envelope is the wire form of a minted token: {v, kid, payload, sig}.
type Envelope struct {
	V       int     `json:"v"`
	Kid     string  `json:"kid"`
	Payload Payload `json:"payload"`
	Sig     string  `json:"sig"`
}

// MintInput supplies the payload and signing identity for Mint.
type MintInput struct {
	Payload       Payload
	PrivateKeyPem string
	PublicKeyPem  string
	// KeyID overrides the key-id derived from PublicKeyPem; leave empty to
	// derive it.
	KeyID string
}

// MintResult is the outcome of a successful Mint.
type MintResult struct {
	Token          string
	TokenSha256    string
	Kid            string
	PayloadHashHex string
}

// Mint normalizes and validates the payload, signs it, and returns the
// base64url-encoded token envelope.
func Mint(in MintInput) (MintResult, error) {
	payload := Normalize(in.Payload)
	if err := Validate(payload); err != nil {
		return MintResult{}, err
	}
	if requestBindingStrictMissingHash(payload) {
		return MintResult{}, fmt.Errorf("%w: requestBindingMode=strict requires requestBindingSha256", ErrPayloadInvalid)
	}

	kid := in.KeyID
	if kid == "" {
		derived, err := cryptoutil.KeyIdFromPublicKeyPem(in.PublicKeyPem)
		if err != nil {
			return MintResult{}, fmt.Errorf("paytoken: derive kid: %w", err)
		}
		kid = derived
	}

	payloadHashHex, err := canonjson.Hash(payload)
	if err != nil {
		return MintResult{}, fmt.Errorf("paytoken: hash payload: %w", err)
	}

	sig, err := cryptoutil.SignHashHex(payloadHashHex, in.PrivateKeyPem)
	if err != nil {
		return MintResult{}, fmt.Errorf("paytoken: sign: %w", err)
	}

	envelope := Envelope{V: envelopeVersion, Kid: kid, Payload: payload, Sig: sig}
	envelopeBytes, err := canonjson.Marshal(envelope)
	if err != nil {
		return MintResult{}, fmt.Errorf("paytoken: marshal envelope: %w", err)
	}

	token := base64.RawURLEncoding.EncodeToString(envelopeBytes)
	return MintResult{
		Token:          token,
		TokenSha256:    canonjson.SHA256Hex([]byte(token)),
		Kid:            kid,
		PayloadHashHex: payloadHashHex,
	}, nil
}

// VerifyInput supplies the token, trusted keyset, and expected request
// context for Verify.
type VerifyInput struct {
	Token                        string
	Keyset                       keyset.Keyset
	NowUnixSeconds               int64
	ExpectedAudience             string
	ExpectedPayeeProviderID      string
	ExpectedRequestBindingSha256 string
}

// VerifyResult is the tagged-union outcome of Verify: OK distinguishes a
// verified payload from a failure carrying a stable Code.
type VerifyResult struct {
	OK             bool
	Payload        Payload
	Kid            string
	TokenSha256    string
	PayloadHashHex string
	Code           string
	Message        string
}

func failure(code, format string, args ...any) VerifyResult {
	return VerifyResult{OK: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Verify decodes, shape-checks, and cryptographically verifies a token
// against a keyset, then applies the audience/payee/expiry/binding checks of
// §4.3. Business-level claim checks (provider/amount/currency/quote/spend
// authorization) are the handler's responsibility, not this codec's.
func Verify(in VerifyInput) VerifyResult {
	raw, err := base64.RawURLEncoding.DecodeString(in.Token)
	if err != nil {
		return failure(CodePayloadInvalidCode, "token is not valid base64url: %v", err)
	}

	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return failure(CodePayloadInvalidCode, "token is not valid JSON: %v", err)
	}
	if envelope.V != envelopeVersion {
		return failure(CodePayloadInvalidCode, "unsupported envelope version %d", envelope.V)
	}

	payload := envelope.Payload
	if err := Validate(payload); err != nil {
		return failure(CodePayloadInvalidCode, "%v", err)
	}

	entry, ok := in.Keyset.Find(envelope.Kid)
	if !ok {
		return failure(CodeUnknownKid, "kid %q not present in keyset", envelope.Kid)
	}

	payloadHashHex, err := canonjson.Hash(payload)
	if err != nil {
		return failure(CodePayloadInvalidCode, "hash payload: %v", err)
	}

	verified, err := cryptoutil.VerifyHashHex(cryptoutil.VerifyHashHexInput{
		HashHex:         payloadHashHex,
		SignatureBase64: envelope.Sig,
		PublicKeyPem:    entry.PublicKeyPem,
	})
	if err != nil || !verified {
		return failure(CodeSignatureInvalid, "signature does not verify")
	}

	if in.NowUnixSeconds > payload.Exp {
		return failure(CodeExpired, "token expired at %d", payload.Exp)
	}

	if in.ExpectedAudience != "" && payload.Aud != in.ExpectedAudience {
		return failure(CodeAudienceMismatch, "aud %q != expected %q", payload.Aud, in.ExpectedAudience)
	}
	if in.ExpectedPayeeProviderID != "" && payload.PayeeProviderID != in.ExpectedPayeeProviderID {
		return failure(CodePayeeMismatch, "payeeProviderId %q != expected %q", payload.PayeeProviderID, in.ExpectedPayeeProviderID)
	}

	if payload.RequestBindingMode == bindingModeStrict {
		if requestBindingStrictMissingHash(payload) {
			return failure(CodeRequestBindingMissing, "strict binding declared without requestBindingSha256")
		}
		if in.ExpectedRequestBindingSha256 == "" {
			return failure(CodeRequestBindingRequired, "strict binding requires a computed request binding hash")
		}
		if payload.RequestBindingSha256 != in.ExpectedRequestBindingSha256 {
			return failure(CodeRequestBindingMismatch, "requestBindingSha256 does not match this request")
		}
	}

	tokenSha256 := canonjson.SHA256Hex([]byte(in.Token))
	return VerifyResult{
		OK:             true,
		Payload:        payload,
		Kid:            envelope.Kid,
		TokenSha256:    tokenSha256,
		PayloadHashHex: payloadHashHex,
	}
}

// ErrInvalidPathWithQuery is returned by ComputeRequestBindingHash when the
// path does not start with "/".
var ErrInvalidPathWithQuery = errors.New("paytoken: pathWithQuery must start with \"/\"")

// ComputeRequestBindingHash computes the binding hash of §4.3:
// sha256Hex(upper(method) + "\n" + lower(host) + "\n" + pathWithQuery + "\n" + lower(bodySha256)).
// The SHA-256 of an empty body is the hash of the empty byte string.
func ComputeRequestBindingHash(method, host, pathWithQuery string, body []byte) (string, error) {
	if !strings.HasPrefix(pathWithQuery, "/") {
		return "", ErrInvalidPathWithQuery
	}

	bodySum := sha256.Sum256(body)
	bodyHashHex := strings.ToLower(hex.EncodeToString(bodySum[:]))

	material := strings.ToUpper(method) + "\n" + strings.ToLower(host) + "\n" + pathWithQuery + "\n" + bodyHashHex
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:]), nil
}
