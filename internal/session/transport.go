package session

import (
	"context"
	"net/http"

	"github.com/dgellow/admin-console/internal/cookie"
)

// Destroy clears the session cookie and deletes the stored record. The cookie
// is cleared even when the store fails. Malformed ids only clear the cookie.
func Destroy(ctx context.Context, w http.ResponseWriter, store Store, id string) error {
	cookie.ClearSession(w)
	if !ValidID(id) {
		return nil
	}
	return store.Delete(ctx, id)
}
