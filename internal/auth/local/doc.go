// Package local implements the json_auth authenticator backed by a JSON
// credential store:
//
//	{"users": [{"username": "alice", "password": "...", "groups": ["dev"]}]}
//
// The file is validated against an embedded JSON schema at startup.
//
// # Hashed passwords
//
// With json_hashed_pw=true the password field holds a PHC string such as
// $argon2id$v=19$m=19456,t=2,p=1$<salt>$<hash>. The salt and cost are read
// back from the digest on every check. bcrypt digests ($2a$, $2b$, $2y$)
// are accepted as well. HashPassword produces new argon2id digests.
package local
