package authsession

// Config describes the OAuth client for the identity provider. The issuer,
// endpoints and client ID are fixed per deployment; the redirect URL is the
// app's custom scheme that the provider calls back into.
type Config struct {
	Issuer            string   `env:"OAUTH_ISSUER,required"`
	AuthorizeEndpoint string   `env:"OAUTH_AUTHORIZE_ENDPOINT,required"`
	TokenEndpoint     string   `env:"OAUTH_TOKEN_ENDPOINT,required"`
	ClientID          string   `env:"OAUTH_CLIENT_ID,required"`
	RedirectURL       string   `env:"OAUTH_REDIRECT_URL" envDefault:"com.dialer://oauth-callback"`
	Scopes            []string `env:"OAUTH_SCOPES" envSeparator:","`
}
