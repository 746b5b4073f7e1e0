// Package portal implements credential-based access to a single bound session.
//
// Operators list portal users in a TOML file. Each user maps to exactly one
// session name; a successful login yields a PASETO v4.public access token
// whose claims carry that binding, so portal requests never name a session
// themselves.
//
// Security properties:
//   - password hashes are Argon2id in PHC string form
//   - unknown users still pay for one hash verification
//   - failed logins are throttled per client IP
package portal
