// Package identity manages the node's stable mesh identity.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// idFile is the fixed name the identity is persisted under inside DataDir.
const idFile = "mesh_node_id"

// LoadOrGen loads the node identity from dataDir or generates and persists a
// new one. The identity survives restarts; it is regenerated only if absent.
// Identities are plain opaque strings, not cryptographic keys.
func LoadOrGen(dataDir string) (string, error) {
	path := filepath.Join(dataDir, idFile)
	if b, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(b))
		if id != "" {
			return id, nil
		}
		zap.L().Warn("identity file present but empty, regenerating", zap.String("path", path))
	}

	id := Generate()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist identity: %w", err)
	}
	zap.L().Info("generated new node identity", zap.String("node_id", id))
	return id, nil
}

// Generate returns a fresh node identity string.
func Generate() string { return "node-" + uuid.NewString() }
