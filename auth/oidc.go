package auth

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pingme/pingme/config"
	"github.com/pingme/pingme/globals"
)

// verifyOIDCToken verifies a given OIDC ID token against the configured
// provider of that name and returns the e-mail claim as the user identifier.
// An unknown provider or a failed verification yields an empty id.
func (g *Gateway) verifyOIDCToken(ctx context.Context, idToken, providerName string) (string, error) {
	if idToken == "" || len(g.cfg.OIDCConfigs) == 0 {
		return "", nil
	}
	var oidcConf *config.OIDCConfig
	for i := range g.cfg.OIDCConfigs {
		if g.cfg.OIDCConfigs[i].Name == providerName {
			oidcConf = &g.cfg.OIDCConfigs[i]
			break
		}
	}
	if oidcConf == nil {
		globals.AppLogger.Debug("no oidc config found for provider", "provider", providerName)
		return "", nil
	}
	provider, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
	if err != nil {
		return "", err
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	verifiedIdToken, err := provider.Verifier(&conf).Verify(ctx, idToken)
	if err != nil {
		return "", err
	}
	claims := struct {
		Email string `json:"email"`
	}{}
	err = verifiedIdToken.Claims(&claims)
	if err != nil {
		return "", err
	}
	return claims.Email, nil
}
