package server

import (
	"net/http"
	"time"

	"github.com/dgellow/admin-console/internal/gate"
	jsonwriter "github.com/dgellow/admin-console/internal/json"
	"github.com/dgellow/admin-console/internal/log"
)

// Whoami describes the authenticated operator
type Whoami struct {
	Subject   string    `json:"subject"`
	Scopes    []string  `json:"scopes"`
	Origin    string    `json:"origin,omitempty"`
	Issuer    string    `json:"issuer,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// WhoamiHandler serves the console home document. It must sit behind the gate.
func WhoamiHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := gate.IdentityFromContext(r.Context())
	if !ok {
		log.LogError("Whoami reached without identity")
		jsonwriter.WriteInternalServerError(w, "missing identity")
		return
	}

	claims := identity.Claims
	scopes := claims.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	if err := jsonwriter.Write(w, Whoami{
		Subject:   claims.Subject,
		Scopes:    scopes,
		Origin:    claims.Origin,
		Issuer:    claims.Issuer,
		ExpiresAt: claims.ExpiresAt().UTC(),
	}); err != nil {
		log.LogErrorWithFields("whoami", "Failed to write response", map[string]any{
			"error": err.Error(),
		})
	}
}
