package client

// AuthProvider supplies authentication headers for HTTP-based transports.
// Token validation and capability policy live above this client; the
// transport only attaches what the provider returns.
type AuthProvider interface {
	// GetAuthHeaders returns headers to attach to every outgoing request.
	GetAuthHeaders() map[string]string
}

// StaticTokenProvider attaches a fixed bearer token.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider creates a provider for a fixed bearer token.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

// GetAuthHeaders implements AuthProvider.
func (p *StaticTokenProvider) GetAuthHeaders() map[string]string {
	if p.token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + p.token}
}
