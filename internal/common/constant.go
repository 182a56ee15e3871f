package common

// Token issuer and audience shared by issuance and verification.
const (
	TokenIssuer   = "medkeeper"
	TokenAudience = "medkeeper-clients"
)

// EncryptedSuffix is appended to a sensitive field name once it holds ciphertext.
const EncryptedSuffix = "_encrypted"

// AuthorizationHeaderName carries the bearer access token on HTTP requests.
const AuthorizationHeaderName = "Authorization"
