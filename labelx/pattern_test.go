package labelx

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDirPatternResolver(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "topic", "author_name.yaml"), "keywords:\n  - foo\n  - bar\nthreshold: 0.5\n")
	writeFile(t, filepath.Join(root, "brand", "content.toml"), "threshold = 0.7\n")
	ctx := context.Background()
	r := NewDirPatternResolver(root)

	p, err := r.Resolve(ctx, "topic", "author_name")
	if err != nil {
		t.Fatalf("Resolve yaml: %v", err)
	}
	if p.Rules["threshold"] != 0.5 {
		t.Fatalf("unexpected rules: %#v", p.Rules)
	}
	if kw, ok := p.Rules["keywords"].([]any); !ok || len(kw) != 2 {
		t.Fatalf("unexpected keywords: %#v", p.Rules["keywords"])
	}

	p, err = r.Resolve(ctx, "brand", "content")
	if err != nil {
		t.Fatalf("Resolve toml: %v", err)
	}
	if p.Rules["threshold"] != 0.7 {
		t.Fatalf("unexpected toml rules: %#v", p.Rules)
	}

	if _, err := r.Resolve(ctx, "topic", "missing"); !errors.Is(err, ErrPatternNotFound) {
		t.Fatalf("want ErrPatternNotFound, got %v", err)
	}
	if _, err := r.Resolve(ctx, "..", "passwd"); err == nil {
		t.Fatal("path traversal should be rejected")
	}
}
