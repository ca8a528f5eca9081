package ssh

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const defaultDialTimeout = 15 * time.Second

// clientConfig builds the ssh.ClientConfig for a target. Inline key material
// is tried first, then a key file, then password auth.
func clientConfig(t Target) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod

	if t.Key != "" {
		signer, err := parseSigner([]byte(NormalizeKey(t.Key)), t.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("parse key material for %s: %w", t.Name, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if t.KeyPath != "" {
		keyData, err := os.ReadFile(expandHomeDir(t.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("read key file for %s: %w", t.Name, err)
		}
		signer, err := parseSigner(keyData, t.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("parse key file for %s: %w", t.Name, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if t.Password != "" {
		methods = append(methods, ssh.Password(t.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no credentials configured for %s", t.Name)
	}

	return &ssh.ClientConfig{
		User:            t.User,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // TODO: integrate known_hosts checking
		Timeout:         defaultDialTimeout,
	}, nil
}

func parseSigner(keyData []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(keyData)
}

// NormalizeKey repairs private key material that was flattened onto a single
// line, as happens to PEM blocks carried through environment variables or
// JSON strings: armor headers go back on their own lines and the base64 body
// is re-wrapped at 64 columns. Multi-line material passes through untouched.
func NormalizeKey(material string) string {
	material = strings.TrimSpace(material)
	if material == "" || strings.Contains(material, "\n") {
		return material
	}
	const armor = "-----"
	if !strings.HasPrefix(material, armor) {
		return material
	}
	// A flattened block reads "-----BEGIN …----- <body> -----END …-----".
	parts := strings.SplitN(material, armor, 5)
	if len(parts) != 5 || !strings.HasPrefix(parts[1], "BEGIN") || !strings.HasPrefix(parts[3], "END") {
		return material
	}
	body := strings.ReplaceAll(strings.TrimSpace(parts[2]), " ", "")

	var b strings.Builder
	b.WriteString(armor + parts[1] + armor + "\n")
	for len(body) > 64 {
		b.WriteString(body[:64] + "\n")
		body = body[64:]
	}
	if body != "" {
		b.WriteString(body + "\n")
	}
	b.WriteString(armor + parts[3] + armor + "\n")
	return b.String()
}

func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
