// Package identity is the credential store collaborator: it verifies
// username/password pairs and registers new users.
//
// The chat core trusts the identity string it is handed after token
// verification; this package only guards the login boundary. Credentials are
// stored as PHC-style Argon2id hashes, either in a JSON file (default) or in
// PostgreSQL when a database is configured.
package identity
