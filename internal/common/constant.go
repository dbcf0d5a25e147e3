package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// RoleAdmin marks principals allowed to settle deposits and run
// reconciliation.
const RoleAdmin = "admin"

// IdempotencyKeyHeader is the HTTP header a payment provider uses to
// deduplicate webhook deliveries.
const IdempotencyKeyHeader = "Idempotency-Key"
