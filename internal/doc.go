// Package internal contains helper utilities that are intentionally private
// to usercore: secure random generation and the codecs that pack code and
// bearer-token IDs together with their secrets.
//
// # What this package must NOT do
//
//   - Export types that appear in the public usercore API.
//   - Be imported by any package outside the usercore module.
package internal
