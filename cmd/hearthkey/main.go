// Command hearthkey prints a freshly generated PASETO v4 signing key pair.
//
// The secret hex goes into HEARTH_PASETO_SECRET_KEY_HEX; the public hex can be
// handed to clients or sidecars that only need to verify tokens.
package main

import (
	"fmt"

	"aidanwoods.dev/go-paseto"
)

func main() {
	secret := paseto.NewV4AsymmetricSecretKey()

	fmt.Printf("HEARTH_PASETO_SECRET_KEY_HEX=%s\n", secret.ExportHex())
	fmt.Printf("public_key_hex=%s\n", secret.Public().ExportHex())
}
