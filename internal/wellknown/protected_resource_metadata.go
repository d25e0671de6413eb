// Package wellknown holds the discovery documents the gateway serves under
// /.well-known paths.
package wellknown

// ProtectedResourceMetadata is the OAuth protected-resource discovery
// document (RFC 9728) advertised when authentication is enabled.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	Issuer                 string   `json:"issuer,omitempty"`
	JwksURI                string   `json:"jwks_uri,omitempty"`
	TokenEndpoint          string   `json:"token_endpoint,omitempty"`
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported    []string `json:"grant_types_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
}
