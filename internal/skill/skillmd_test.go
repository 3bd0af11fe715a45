package skill

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, dir, content string) string {
	t.Helper()
	skillDir := filepath.Join(t.TempDir(), dir)
	if err := os.MkdirAll(skillDir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(skillDir, FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseWithFrontmatter(t *testing.T) {
	path := writeSkill(t, "writing-helper", `---
name: writing-helper
description: Helps with prose editing.
tags: [writing, editing]
---
# Writing Helper

Use this when editing prose.
`)

	f, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if f.Name != "writing-helper" {
		t.Errorf("Name = %q", f.Name)
	}
	if f.Description != "Helps with prose editing." {
		t.Errorf("Description = %q", f.Description)
	}
	if _, ok := f.Metadata["tags"]; !ok {
		t.Error("Metadata should retain extra frontmatter keys")
	}
	if f.ContentHash == "" {
		t.Error("ContentHash should be set")
	}
	if f.Body == "" || f.Body[0] != '#' {
		t.Errorf("Body should start at the heading, got %q", f.Body)
	}
}

func TestParseWithoutFrontmatterFallsBackToDirName(t *testing.T) {
	path := writeSkill(t, "bare-skill", "just a body, no frontmatter\n")

	f, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if f.Name != "bare-skill" {
		t.Errorf("Expected dir-name fallback, got %q", f.Name)
	}
	if f.Description != "" {
		t.Errorf("Description should be empty, got %q", f.Description)
	}
}

func TestParseUnterminatedFrontmatter(t *testing.T) {
	path := writeSkill(t, "broken", "---\nname: broken\nno closing fence\n")

	if _, err := Parse(path); err == nil {
		t.Error("Expected error for unterminated frontmatter")
	}
}

func TestIDIsPureFunctionOfPath(t *testing.T) {
	a := ID("/home/u/.claude/skills/x/SKILL.md")
	b := ID("/home/u/.claude/skills/x/SKILL.md")
	c := ID("/home/u/.claude/skills/y/SKILL.md")

	if a != b {
		t.Error("Same path must yield same id")
	}
	if a == c {
		t.Error("Different paths must yield different ids")
	}
	if len(a) != 16 {
		t.Errorf("id length = %d, want 16", len(a))
	}
}

func TestIDNormalizesPath(t *testing.T) {
	if ID("/a/b/../b/SKILL.md") != ID("/a/b/SKILL.md") {
		t.Error("ID should clean the path before hashing")
	}
}

func TestEmbeddingTextTruncatesBody(t *testing.T) {
	long := make([]byte, embedBodyLimit*2)
	for i := range long {
		long[i] = 'x'
	}
	f := &File{Name: "n", Description: "d", Body: string(long)}

	text := f.EmbeddingText()
	if len(text) > embedBodyLimit+len("n\nd\n") {
		t.Errorf("EmbeddingText too long: %d", len(text))
	}
}

func TestHashFileMatchesParseHash(t *testing.T) {
	path := writeSkill(t, "hashed", "---\nname: hashed\n---\nbody\n")

	f, err := Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	h, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if h != f.ContentHash {
		t.Errorf("HashFile %q != Parse hash %q", h, f.ContentHash)
	}
}
