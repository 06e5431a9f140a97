package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// EncryptionVersion is the version tag written into every encrypted note
// record. It changes only when the envelope layout or AAD scheme changes.
const EncryptionVersion = 1
