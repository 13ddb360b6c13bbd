// redeem_code_gen mints redeem code strings offline from a shared secret,
// so codes can be printed on event material before the service ever sees
// them. Feed the output to /gen or /dgen to activate a code.
//
// Usage: REDEEM_CODE_SECRET=... go run scripts/redeem_code_gen.go <batch> <count>
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const codeSalt = "chara-realm-code-v1"
const codeLength = 10

func main() {
	secret := strings.TrimSpace(os.Getenv("REDEEM_CODE_SECRET"))
	if secret == "" {
		fmt.Println("REDEEM_CODE_SECRET is required")
		os.Exit(1)
	}
	if len(os.Args) < 3 {
		fmt.Println("usage: redeem_code_gen <batch> <count>")
		os.Exit(1)
	}
	batch := os.Args[1]
	count, err := strconv.Atoi(os.Args[2])
	if err != nil || count < 1 || count > 10000 {
		fmt.Println("count must be 1..10000")
		os.Exit(1)
	}

	for i := 0; i < count; i++ {
		code, err := mintCode(secret, batch, i)
		if err != nil {
			fmt.Println("failed to mint code")
			os.Exit(1)
		}
		fmt.Println(code)
	}
}

func mintCode(secret, batch string, index int) (string, error) {
	mac := hmac.New(sha256.New, []byte(secret))
	message := []byte(codeSalt + ":" + batch + ":" + strconv.Itoa(index))
	if _, err := mac.Write(message); err != nil {
		return "", err
	}
	sum := mac.Sum(nil)
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:7])
	encoded = strings.ToUpper(encoded)
	if len(encoded) < codeLength {
		encoded = encoded + strings.Repeat("A", codeLength-len(encoded))
	}
	encoded = encoded[:codeLength]
	return encoded[:5] + "-" + encoded[5:], nil
}
