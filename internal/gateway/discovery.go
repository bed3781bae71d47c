package gateway

import "net/http"

type authorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}

type protectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
}

func (g *Gateway) handleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	base := g.BaseURL(r)
	writeJSON(w, http.StatusOK, authorizationServerMetadata{
		Issuer:                            base,
		AuthorizationEndpoint:             g.AuthorizeURL(r),
		TokenEndpoint:                     base + "/token",
		RegistrationEndpoint:              base + "/register",
		RevocationEndpoint:                base + "/revoke",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_post", "none"},
		ScopesSupported:                   g.cfg.Scopes,
	})
}

func (g *Gateway) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	base := g.BaseURL(r)
	writeJSON(w, http.StatusOK, protectedResourceMetadata{
		Resource:               base,
		AuthorizationServers:   []string{base},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        g.cfg.Scopes,
	})
}
