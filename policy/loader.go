package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadFile loads a single .rego file, or every .rego file under a directory
func (pe *PolicyEngine) LoadFile(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("policy path %s: %w", path, err)
	}
	if !info.IsDir() {
		return pe.loadPolicyFile(ctx, path)
	}

	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".rego") {
			return nil
		}
		return pe.loadPolicyFile(ctx, p)
	})
}

func (pe *PolicyEngine) loadPolicyFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), ".rego")
	if err := pe.LoadPolicy(ctx, name, string(content)); err != nil {
		return fmt.Errorf("failed to load policy from %s: %w", path, err)
	}
	return nil
}
