package domain

import "time"

// AuthProvider records how a user signed up.
type AuthProvider string

const (
	ProviderLocal  AuthProvider = "local"
	ProviderGoogle AuthProvider = "google"
)

// User is an operator of the CRM.
type User struct {
	ID            string       `json:"id" db:"id"`
	Username      string       `json:"username" db:"username"`
	Email         string       `json:"email" db:"email"`
	PasswordHash  string       `json:"-" db:"password_hash"`
	GoogleID      string       `json:"-" db:"google_id"`
	Provider      AuthProvider `json:"provider" db:"provider"`
	EmailVerified bool         `json:"emailVerified" db:"email_verified"`
	CreatedAt     time.Time    `json:"createdAt" db:"created_at"`
}
