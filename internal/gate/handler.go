// Package gate orchestrates a paid HTTP tool endpoint: price the call,
// build a signed quote attestation, verify the caller's payment token,
// check for a cached replay, execute the tool, sign the response, and
// persist the replay row. This is the provider-side state machine of §4.7.
package gate

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"stronghold/internal/attestation"
	"stronghold/internal/canonjson"
	"stronghold/internal/keyset"
	"stronghold/internal/paytoken"
	"stronghold/internal/quote"
	"stronghold/internal/replay"
)

// PriceFunc prices one request into a normalized offer. Any error aborts the
// request with HTTP 500 pricing_error.
type PriceFunc func(c fiber.Ctx) (Offer, error)

// ExecuteInput is everything an ExecuteFunc needs to run the underlying
// paid tool.
type ExecuteInput struct {
	Ctx                  fiber.Ctx
	Offer                Offer
	Verification         paytoken.VerifyResult
	RequestBodyBuffer    []byte
	RequestBindingSha256 string
}

// ExecuteResult is the raw result of running the paid tool, prior to
// signing.
type ExecuteResult struct {
	StatusCode  int
	Headers     map[string]string
	ContentType string
	Body        []byte
}

// ExecuteFunc runs the underlying paid tool. Any error aborts the request
// with HTTP 500 provider_execution_error and is never replay-cached.
type ExecuteFunc func(in ExecuteInput) (ExecuteResult, error)

// Config constructs a Handler.
type Config struct {
	ProviderID            string
	ProviderIDForRequest  func(c fiber.Ctx) string
	PriceFor              PriceFunc
	Execute               ExecuteFunc
	ProviderPrivateKeyPem string
	ProviderPublicKeyPem  string
	KeysetResolver        *keyset.Resolver
	ReplayStore           *replay.Store
	ReplayTTLBuffer       time.Duration
	QuoteTTL              time.Duration
	MaxRequestBodyBytes   int64
	PaymentAddress        string
	PaymentNetwork        string
	// DevModeSkipVerify bypasses S4-S6 (auth parsing, token verification,
	// claim checks) entirely, proceeding straight to the replay check as
	// though a verified token had satisfied the offer exactly. The caller
	// (config.Validate) is responsible for refusing this outside of
	// development; the handler itself enforces nothing beyond the bypass.
	DevModeSkipVerify bool
	// MutateSignature is a test seam only; it MUST NOT be wired in production
	// construction paths since it can alter a signature undetectably.
	MutateSignature func(signatureBase64 string) string
	Now             func() time.Time
	Logger          *slog.Logger
}

// Handler is the paid request orchestrator.
type Handler struct {
	cfg Config
	now func() time.Time
	log *slog.Logger
}

// NewHandler builds a Handler from cfg, defaulting Now to time.Now and
// Logger to slog.Default.
func NewHandler(cfg Config) *Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, now: now, log: logger}
}

var bodyAllowedMethods = map[string]bool{
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// Handle implements the state machine of §4.7 as a fiber handler.
func (h *Handler) Handle(c fiber.Ctx) error {
	ctx := c.Context()

	// S0 PARSE_URL
	method := c.Method()
	host := c.Hostname()
	pathWithQuery := pathWithQueryOf(c)

	// S1 PRICE
	rawOffer, err := h.cfg.PriceFor(c)
	if err != nil {
		return writeServerError(c, "pricing_error", err.Error())
	}
	offer := rawOffer.Normalize()
	offer.ProviderID = h.providerIDFor(c)

	// S2 MAYBE_READ_BODY
	var body []byte
	if offer.RequestBindingMode == BindingStrict && bodyAllowedMethods[method] {
		body, err = readBoundedBody(c, h.cfg.MaxRequestBodyBytes)
		if err != nil {
			return h.writePaymentError(c, offer, nil, nil, paymentError(CodeRequestBodyTooLarge, err.Error()))
		}
	}

	var requestBindingSha256 string
	if offer.RequestBindingMode == BindingStrict {
		requestBindingSha256, err = paytoken.ComputeRequestBindingHash(method, host, pathWithQuery, body)
		if err != nil {
			return writeServerError(c, "pricing_error", err.Error())
		}
	}

	// S3 BUILD_QUOTE (always, even if the token will be accepted outright)
	q := quote.Build(quote.BuildInput{
		ProviderID:             offer.ProviderID,
		ToolID:                 offer.ToolID,
		AmountCents:            offer.AmountCents,
		Currency:               offer.Currency,
		Address:                defaultString(offer.Address, h.cfg.PaymentAddress),
		Network:                defaultString(offer.Network, h.cfg.PaymentNetwork),
		RequestBindingMode:     string(offer.RequestBindingMode),
		RequestBindingSha256:   requestBindingSha256,
		QuoteRequired:          offer.QuoteRequired,
		QuoteID:                offer.QuoteID,
		SpendAuthorizationMode: string(offer.SpendAuthorizationMode),
		Method:                 method,
		PathWithQuery:          pathWithQuery,
		Now:                    h.now(),
		TTL:                    h.cfg.QuoteTTL,
	})
	qSig, err := quote.Sign(quote.SignInput{
		Quote:         q,
		PrivateKeyPem: h.cfg.ProviderPrivateKeyPem,
		PublicKeyPem:  h.cfg.ProviderPublicKeyPem,
		Now:           h.now(),
	})
	if err != nil {
		return writeServerError(c, "pricing_error", err.Error())
	}

	var (
		verification paytoken.VerifyResult
		source       keyset.Source
	)
	if h.cfg.DevModeSkipVerify {
		// Dev-mode bypass: skip S4 PARSE_AUTH, S5 VERIFY_TOKEN, and S6
		// CHECK_CLAIMS, and proceed to S7 as though a token satisfying the
		// offer exactly had just verified.
		h.log.Warn("gate: dev-mode verification bypass active", "toolId", offer.ToolID)
		source = keyset.SourceDevBypass
		verification = paytoken.VerifyResult{
			OK: true,
			Payload: paytoken.Payload{
				Iss:              "dev-mode",
				Aud:              offer.ProviderID,
				GateID:           uuid.NewString(),
				AuthorizationRef: uuid.NewString(),
				AmountCents:      offer.AmountCents,
				Currency:         offer.Currency,
				PayeeProviderID:  offer.ProviderID,
				QuoteID:          offer.QuoteID,
			},
			TokenSha256: canonjson.SHA256Hex([]byte(uuid.NewString())),
		}
	} else {
		// S4 PARSE_AUTH
		token, ok := parseAuthorizationHeader(c.Get("Authorization"))
		if !ok {
			return h.writePaymentError(c, offer, &q, &qSig, paymentError(CodePaymentRequired, "missing or malformed Authorization header"))
		}

		// S5 VERIFY_TOKEN
		var ks keyset.Keyset
		ks, source, err = h.cfg.KeysetResolver.GetKeyset(ctx)
		if err != nil {
			return h.writePaymentError(c, offer, &q, &qSig, paymentError(CodeKeysetUnavailable, err.Error()))
		}

		verification = paytoken.Verify(paytoken.VerifyInput{
			Token:                        token,
			Keyset:                       ks,
			NowUnixSeconds:               h.now().Unix(),
			ExpectedAudience:             offer.ProviderID,
			ExpectedPayeeProviderID:      offer.ProviderID,
			ExpectedRequestBindingSha256: requestBindingSha256,
		})
		if !verification.OK {
			return h.writePaymentError(c, offer, &q, &qSig, paymentError(verification.Code, verification.Message))
		}

		// S6 CHECK_CLAIMS
		if claimErr := checkClaims(offer, verification.Payload); claimErr != nil {
			return h.writePaymentError(c, offer, &q, &qSig, claimErr)
		}
	}

	// S7 REPLAY_CHECK
	replayKey := replay.Key(verification.Payload.AuthorizationRef, verification.Payload.GateID, verification.TokenSha256)
	nowMs := h.now().UnixMilli()
	if cached, hit := h.cfg.ReplayStore.Get(replayKey, nowMs); hit {
		return writeCachedResponse(c, cached, source)
	}

	// S8 EXECUTE
	result, err := h.cfg.Execute(ExecuteInput{
		Ctx:                  c,
		Offer:                offer,
		Verification:         verification,
		RequestBodyBuffer:    body,
		RequestBindingSha256: requestBindingSha256,
	})
	if err != nil {
		return writeServerError(c, "provider_execution_error", err.Error())
	}

	// S9 NORMALIZE_RESULT, BODY_BYTES
	statusCode := result.StatusCode
	if statusCode == 0 {
		statusCode = fiber.StatusOK
	}
	bodyBytes := result.Body

	// S10 SIGN_RESPONSE
	att, err := attestation.Sign(attestation.SignInput{
		Body:          bodyBytes,
		PrivateKeyPem: h.cfg.ProviderPrivateKeyPem,
		PublicKeyPem:  h.cfg.ProviderPublicKeyPem,
		Now:           h.now(),
	})
	if err != nil {
		return writeServerError(c, "provider_execution_error", err.Error())
	}
	if h.cfg.MutateSignature != nil {
		att.SignatureBase64 = h.cfg.MutateSignature(att.SignatureBase64)
	}

	// S11 WRITE HTTP RESPONSE
	for k, v := range result.Headers {
		c.Set(k, v)
	}
	if result.ContentType != "" {
		c.Set("Content-Type", result.ContentType)
	}
	setAttestationHeaders(c, att, verification, q.QuoteID, string(offer.RequestBindingMode), requestBindingSha256, string(source))
	c.Status(statusCode)
	if err := c.Send(bodyBytes); err != nil {
		return err
	}

	// S12 INSERT REPLAY ROW
	expiresAtMs := verification.Payload.Exp*1000 + h.cfg.ReplayTTLBuffer.Milliseconds()
	if verification.Payload.Exp <= 0 {
		expiresAtMs = h.now().Add(5 * time.Minute).UnixMilli()
	}
	h.cfg.ReplayStore.Set(replayKey, replay.Row{
		Key:                  replayKey,
		ExpiresAtMs:          expiresAtMs,
		StatusCode:           statusCode,
		Headers:              result.Headers,
		ContentType:          result.ContentType,
		BodyBytes:            bodyBytes,
		Signature:            att.SignatureBase64,
		RequestBindingMode:   string(offer.RequestBindingMode),
		RequestBindingSha256: requestBindingSha256,
	}, nowMs)

	return nil
}

func (h *Handler) providerIDFor(c fiber.Ctx) string {
	if h.cfg.ProviderIDForRequest != nil {
		return h.cfg.ProviderIDForRequest(c)
	}
	return h.cfg.ProviderID
}

func checkClaims(offer Offer, p paytoken.Payload) *PaymentError {
	if p.Aud != offer.ProviderID || p.PayeeProviderID != offer.ProviderID {
		return paymentError(CodeProviderMismatch, "token audience/payee does not match this provider")
	}
	if p.AmountCents != offer.AmountCents {
		return paymentError(CodeAmountMismatch, "token amountCents does not match the offer")
	}
	if !strings.EqualFold(p.Currency, offer.Currency) {
		return paymentError(CodeCurrencyMismatch, "token currency does not match the offer")
	}
	if offer.QuoteRequired && p.QuoteID == "" {
		return paymentError(CodeQuoteRequired, "offer requires a quoteId but token has none")
	}
	if offer.QuoteID != "" && p.QuoteID != offer.QuoteID {
		return paymentError(CodeQuoteMismatch, "token quoteId does not match the offer's pinned quoteId")
	}
	if offer.SpendAuthorizationMode == SpendAuthRequired {
		var missing []string
		if p.QuoteID == "" {
			missing = append(missing, "quoteId")
		}
		if p.IdempotencyKey == "" {
			missing = append(missing, "idempotencyKey")
		}
		if p.Nonce == "" {
			missing = append(missing, "nonce")
		}
		if p.SponsorRef == "" {
			missing = append(missing, "sponsorRef")
		}
		if p.AgentKeyID == "" {
			missing = append(missing, "agentKeyId")
		}
		if len(p.PolicyFingerprint) != 64 {
			missing = append(missing, "policyFingerprint")
		}
		if len(missing) > 0 {
			return &PaymentError{Code: CodeSpendAuthRequired, Message: "spend authorization incomplete", MissingClaims: missing}
		}
	}
	return nil
}

func readBoundedBody(c fiber.Ctx, limit int64) ([]byte, error) {
	body := c.Body()
	if limit > 0 && int64(len(body)) > limit {
		return nil, fmt.Errorf("request body of %d bytes exceeds the %d byte limit", len(body), limit)
	}
	return body, nil
}

func pathWithQueryOf(c fiber.Ctx) string {
	path := c.Path()
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if qs := string(c.Request().URI().QueryString()); qs != "" {
		return path + "?" + qs
	}
	return path
}

func defaultString(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func writeServerError(c fiber.Ctx, errCode, message string) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"ok":      false,
		"error":   errCode,
		"message": message,
	})
}

func (h *Handler) writePaymentError(c fiber.Ctx, offer Offer, q *quote.Payload, qSig *quote.Signature, perr *PaymentError) error {
	c.Set(HeaderPaymentRequired, paymentRequiredHeaderValue(offer))
	c.Set(HeaderPaymentRequiredLegacy, paymentRequiredHeaderValue(offer))
	c.Set(HeaderPaymentError, perr.Code)

	body := fiber.Map{
		"ok":      false,
		"error":   "payment_required",
		"code":    perr.Code,
		"message": perr.Message,
		"offer":   offer,
	}

	if q != nil && qSig != nil {
		quoteBytes, err := canonjson.Marshal(*q)
		if err == nil {
			c.Set(HeaderProviderQuote, base64.RawURLEncoding.EncodeToString(quoteBytes))
			body["quote"] = *q
		}
		sigBytes, err := canonjson.Marshal(*qSig)
		if err == nil {
			c.Set(HeaderProviderQuoteSignature, base64.RawURLEncoding.EncodeToString(sigBytes))
		}
	}

	if len(perr.MissingClaims) > 0 {
		body["details"] = fiber.Map{"missingClaims": perr.MissingClaims}
	}

	return c.Status(fiber.StatusPaymentRequired).JSON(body)
}

func setAttestationHeaders(c fiber.Ctx, att attestation.Attestation, v paytoken.VerifyResult, quoteID, bindingMode, bindingSha256, keysetSource string) {
	c.Set(HeaderProviderKeyID, att.KeyID)
	c.Set(HeaderProviderSignedAt, strconv.FormatInt(att.SignedAt, 10))
	c.Set(HeaderProviderNonce, att.Nonce)
	c.Set(HeaderProviderResponseHash, att.ResponseHash)
	c.Set(HeaderProviderSignature, att.SignatureBase64)
	c.Set(HeaderAuthorizationRef, v.Payload.AuthorizationRef)
	c.Set(HeaderGateID, v.Payload.GateID)
	c.Set(HeaderQuoteID, quoteID)
	c.Set(HeaderTokenSha256, v.TokenSha256)
	c.Set(HeaderKeysetSource, keysetSource)
	c.Set(HeaderRequestBindingMode, bindingMode)
	if bindingSha256 != "" {
		c.Set(HeaderRequestBindingSha256, bindingSha256)
	}
}

func writeCachedResponse(c fiber.Ctx, row replay.Row, source keyset.Source) error {
	for k, v := range row.Headers {
		c.Set(k, v)
	}
	if row.ContentType != "" {
		c.Set("Content-Type", row.ContentType)
	}
	c.Set(HeaderProviderSignature, row.Signature)
	c.Set(HeaderRequestBindingMode, row.RequestBindingMode)
	if row.RequestBindingSha256 != "" {
		c.Set(HeaderRequestBindingSha256, row.RequestBindingSha256)
	}
	c.Set(HeaderKeysetSource, string(source))
	c.Set(HeaderReplay, ReplayDuplicate)
	c.Status(row.StatusCode)
	return c.Send(row.BodyBytes)
}
