package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens. CandidateID is only
// populated for candidate accounts.
type JWTClaims struct {
	UserID      string   `json:"user_id"`
	Role        UserRole `json:"role"`
	Email       string   `json:"email"`
	FullName    string   `json:"full_name"`
	CandidateID string   `json:"candidate_id,omitempty"`
	jwt.RegisteredClaims
}
