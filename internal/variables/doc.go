// Package variables stores per-user configuration values, most importantly
// the user's remote API key. Unset variables resolve to a typed error whose
// message is shown to the end user verbatim.
package variables
