// Package session supplies the authenticated user's identity and bearer
// token to the chat clients through a narrow Provider interface, keeping the
// reconciliation core testable with a fake session instead of a global
// auth context.
package session
