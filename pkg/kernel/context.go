package kernel

// AuthContext is the identity attached to a request once it clears
// authentication, regardless of whether it arrived via a system API key
// or an admin JWT session.
type AuthContext struct {
	UserID   UserID `json:"user_id"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
	IsAPIKey bool   `json:"is_api_key"`
	APIKeyID string `json:"api_key_id,omitempty"`
}

// IsValid reports whether the context carries enough identity to act.
func (ac *AuthContext) IsValid() bool {
	return ac != nil && !ac.UserID.IsEmpty()
}

// ContextKey namespaces values stored on context.Context / fiber.Ctx locals.
type ContextKey string

const (
	AuthContextKey ContextKey = "auth_context"
	RequestIDKey   ContextKey = "request_id"
)
