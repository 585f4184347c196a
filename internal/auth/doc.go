// Package auth handles operator sign-up, login and request authentication.
//
// Local accounts store a bcrypt hash; Google accounts are created on first
// OAuth code exchange. Both receive a signed HS256 bearer token carrying the
// user id. RequireAuth verifies the token and loads the user before any
// protected handler runs. Logout revokes a token until it would have expired.
package auth
