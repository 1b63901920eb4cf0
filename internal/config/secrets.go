package config

import (
	"fmt"
	"os"
	"strings"
)

// ReadSecretFile loads a single credential from a mounted secret file.
// Trailing whitespace is trimmed; secret mounts commonly end in a newline.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	secret := strings.TrimRight(string(data), " \t\r\n")
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}
