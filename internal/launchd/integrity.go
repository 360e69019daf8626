package launchd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// CheckIntegrity compares the installed plist against the hash recorded at
// install time. It returns a warning, or "" when the plist is intact or
// there is nothing to compare.
func CheckIntegrity(plistPath, hashPath string) string {
	data, err := os.ReadFile(plistPath)
	if err != nil {
		return ""
	}
	stored, err := os.ReadFile(hashPath)
	if err != nil {
		return ""
	}
	expected := strings.TrimSpace(string(stored))
	if len(expected) != 64 {
		return ""
	}
	actual := hashOf(data)
	if actual == expected {
		return ""
	}
	return fmt.Sprintf("helper plist %s has been modified since installation (expected %s, got %s)",
		plistPath, expected[:16], actual[:16])
}

// RecordHash stores the plist's hash at hashPath.
func RecordHash(plistPath, hashPath string) error {
	data, err := os.ReadFile(plistPath)
	if err != nil {
		return fmt.Errorf("launchd: read plist: %w", err)
	}
	return os.WriteFile(hashPath, []byte(hashOf(data)+"\n"), 0o600)
}

func hashOf(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
