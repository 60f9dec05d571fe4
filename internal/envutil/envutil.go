package envutil

import (
	"os"
	"strings"
)

// EnvVar selects the runtime environment of the console.
const EnvVar = "CONSOLE_ENV"

// IsDev reports whether the console runs in development mode, where
// cookies are issued without the Secure flag so plain-HTTP localhost works.
func IsDev() bool {
	env := strings.ToLower(os.Getenv(EnvVar))
	return env == "development" || env == "dev"
}
