package common

import "os"

// Env returns the value of the environment variable name or def if it is
// unset or empty.
func Env(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
