package jwt

const (
	ClaimSubject = "sub"
	ClaimRole    = "role"
	ClaimExpires = "exp"
)

type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"`
}
