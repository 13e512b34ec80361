package cmd

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/futuresys/introbot/internal/auth"
)

// runHashPassword generates the auth_password_hash and auth_salt values for
// config.yaml. The password is read from stdin so it never appears in shell
// history or process listings.
func runHashPassword() error {
	fmt.Fprint(os.Stderr, "Password: ")

	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	password = strings.TrimRight(password, "\r\n")
	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	saltBytes := make([]byte, 16)
	if _, err := rand.Read(saltBytes); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}
	salt := hex.EncodeToString(saltBytes)

	fmt.Println("Add to config.yaml:")
	fmt.Println("  auth_enabled: true")
	fmt.Println("  auth_user: <your user>")
	fmt.Printf("  auth_password_hash: %s\n", auth.HashPassword(password, salt))
	fmt.Printf("  auth_salt: %s\n", salt)
	return nil
}
