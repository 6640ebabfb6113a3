package main

// defaultManifestYAML is the catalog served by `gatectl serve` when no
// --manifest file is given: one safe-idempotency free-text tool and one
// side-effecting tool that requires strict request binding and spend
// authorization, enough to exercise every branch of the gate's state
// machine from the command line.
const defaultManifestYAML = `
schemaVersion: PaidToolManifest.v2
providerId: prov_demo
address: demo-address-0001
network: nooterra-devnet
tools:
  - toolId: bridge.search
    idempotency: safe
    amountCents: 500
    currency: USD
  - toolId: bridge.transfer
    idempotency: side_effecting
    amountCents: 250000
    currency: USD
    quoteRequired: true
`
