// Command generate-master-key prints a fresh base64 AES-256-GCM master
// key for the BRIDGE_MASTER_KEY environment variable.
package main

import (
	"fmt"
	"log"

	"github.com/omnibridge/bridge-runtime/pkg/signer"
)

func main() {
	key, err := signer.GenerateMasterKey()
	if err != nil {
		log.Fatalf("generate master key: %v", err)
	}
	fmt.Println(signer.MasterKeyToBase64(key))
}
