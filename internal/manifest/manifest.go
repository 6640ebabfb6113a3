// Package manifest normalizes a Paid Tool Manifest (v1 or v2) — the
// publish-time document binding a provider's toolIds to their declared
// idempotency, default pricing, and payment settlement details — and
// derives a canonical-JSON content hash used to detect republished pricing.
package manifest

import (
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"stronghold/internal/canonjson"
)

// SchemaVersionV1 manifests require address/network on every tool entry.
const SchemaVersionV1 = "PaidToolManifest.v1"

// SchemaVersionV2 manifests may declare address/network once at the
// manifest level and let entries inherit them.
const SchemaVersionV2 = "PaidToolManifest.v2"

// Idempotency classifies how safely a tool invocation can be retried; it
// drives the default requestBindingMode exactly as spec.md §3 does for Offer.
type Idempotency string

const (
	IdempotencySafe           Idempotency = "safe"
	IdempotencyIdempotent     Idempotency = "idempotent"
	IdempotencyNonIdempotent  Idempotency = "non_idempotent"
	IdempotencySideEffecting  Idempotency = "side_effecting"
)

const (
	bindingModeNone   = "none"
	bindingModeStrict = "strict"

	spendAuthOptional = "optional"
	spendAuthRequired = "required"
)

// ErrManifestInvalid wraps every shape violation caught by Normalize.
var ErrManifestInvalid = errors.New("manifest: invalid manifest")

// ToolEntry is one priced tool published under a manifest.
type ToolEntry struct {
	ToolID                 string      `yaml:"toolId" json:"toolId"`
	Idempotency             Idempotency `yaml:"idempotency" json:"idempotency"`
	AmountCents            int64       `yaml:"amountCents" json:"amountCents"`
	Currency               string      `yaml:"currency" json:"currency"`
	Address                string      `yaml:"address,omitempty" json:"address,omitempty"`
	Network                string      `yaml:"network,omitempty" json:"network,omitempty"`
	QuoteRequired          bool        `yaml:"quoteRequired,omitempty" json:"quoteRequired,omitempty"`
	QuoteID                string      `yaml:"quoteId,omitempty" json:"quoteId,omitempty"`
	RequestBindingMode     string      `yaml:"requestBindingMode,omitempty" json:"requestBindingMode,omitempty"`
	SpendAuthorizationMode string      `yaml:"spendAuthorizationMode,omitempty" json:"spendAuthorizationMode,omitempty"`
}

// Manifest is a provider's full set of published paid tools.
type Manifest struct {
	SchemaVersion string      `yaml:"schemaVersion" json:"schemaVersion"`
	ProviderID    string      `yaml:"providerId" json:"providerId"`
	Address       string      `yaml:"address,omitempty" json:"address,omitempty"`
	Network       string      `yaml:"network,omitempty" json:"network,omitempty"`
	Tools         []ToolEntry `yaml:"tools" json:"tools"`
}

// Load parses a YAML manifest document.
func Load(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: parse yaml: %w", err)
	}
	return m, nil
}

// Normalize validates shape and fills in every derived default: entries
// inherit the manifest-level address/network (v2 only), requestBindingMode
// defaults from idempotency, and spendAuthorizationMode defaults from
// quoteRequired — the same defaulting rules spec.md §3 applies to Offer.
// Tools are sorted by toolId so ContentHash is stable regardless of
// publication order.
func Normalize(m Manifest) (Manifest, error) {
	switch m.SchemaVersion {
	case SchemaVersionV1, SchemaVersionV2:
	default:
		return Manifest{}, fmt.Errorf("%w: unknown schemaVersion %q", ErrManifestInvalid, m.SchemaVersion)
	}
	if m.ProviderID == "" {
		return Manifest{}, fmt.Errorf("%w: providerId is required", ErrManifestInvalid)
	}
	if len(m.Tools) == 0 {
		return Manifest{}, fmt.Errorf("%w: tools[] must not be empty", ErrManifestInvalid)
	}

	out := m
	out.Tools = make([]ToolEntry, len(m.Tools))
	seen := make(map[string]bool, len(m.Tools))

	for i, t := range m.Tools {
		if t.ToolID == "" {
			return Manifest{}, fmt.Errorf("%w: tools[%d].toolId is required", ErrManifestInvalid, i)
		}
		if seen[t.ToolID] {
			return Manifest{}, fmt.Errorf("%w: duplicate toolId %q", ErrManifestInvalid, t.ToolID)
		}
		seen[t.ToolID] = true

		if t.AmountCents <= 0 {
			return Manifest{}, fmt.Errorf("%w: tool %q amountCents must be > 0", ErrManifestInvalid, t.ToolID)
		}
		if t.Currency == "" {
			return Manifest{}, fmt.Errorf("%w: tool %q currency is required", ErrManifestInvalid, t.ToolID)
		}

		switch t.Idempotency {
		case IdempotencySafe, IdempotencyIdempotent, IdempotencyNonIdempotent, IdempotencySideEffecting:
		default:
			return Manifest{}, fmt.Errorf("%w: tool %q has unknown idempotency %q", ErrManifestInvalid, t.ToolID, t.Idempotency)
		}

		if t.Address == "" {
			t.Address = m.Address
		}
		if t.Network == "" {
			t.Network = m.Network
		}
		if m.SchemaVersion == SchemaVersionV1 && (t.Address == "" || t.Network == "") {
			return Manifest{}, fmt.Errorf("%w: tool %q requires address and network under %s", ErrManifestInvalid, t.ToolID, SchemaVersionV1)
		}
		if t.Address == "" || t.Network == "" {
			return Manifest{}, fmt.Errorf("%w: tool %q has no address/network (set on the tool or the manifest)", ErrManifestInvalid, t.ToolID)
		}

		if t.RequestBindingMode == "" {
			if t.Idempotency == IdempotencyNonIdempotent || t.Idempotency == IdempotencySideEffecting {
				t.RequestBindingMode = bindingModeStrict
			} else {
				t.RequestBindingMode = bindingModeNone
			}
		}
		if t.SpendAuthorizationMode == "" {
			if t.QuoteRequired {
				t.SpendAuthorizationMode = spendAuthRequired
			} else {
				t.SpendAuthorizationMode = spendAuthOptional
			}
		}

		out.Tools[i] = t
	}

	sort.Slice(out.Tools, func(i, j int) bool { return out.Tools[i].ToolID < out.Tools[j].ToolID })
	return out, nil
}

// ContentHash returns sha256Hex(canonicalJson(m)), used by a provider to
// detect that republished pricing actually changed.
func ContentHash(m Manifest) (string, error) {
	return canonjson.Hash(m)
}

// Find returns the normalized tool entry for toolID, if present.
func Find(m Manifest, toolID string) (ToolEntry, bool) {
	for _, t := range m.Tools {
		if t.ToolID == toolID {
			return t, true
		}
	}
	return ToolEntry{}, false
}
