// Package password provides the default argon2id credential vault. Hashes
// are stored in PHC string format, so parameters can be raised later without
// invalidating existing hashes.
package password
