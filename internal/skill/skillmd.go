// Package skill parses SKILL.md capability files discovered on disk.
// A skill is a directory containing a SKILL.md with YAML frontmatter
// (name, description, arbitrary metadata) followed by a markdown body.
package skill

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// FileName is the per-directory skill manifest.
	FileName = "SKILL.md"

	maxSkillBytes = 2 << 20 // 2 MiB

	// embedBodyLimit bounds how much of the body feeds the embedder.
	embedBodyLimit = 2048
)

// File is a parsed skill file.
type File struct {
	// Name from frontmatter, falling back to the directory name.
	Name string
	// Description from frontmatter (may be empty).
	Description string
	// Path is the cleaned absolute path of the SKILL.md file.
	Path string
	// Metadata is the full decoded frontmatter.
	Metadata map[string]any
	// Body is the markdown content after the frontmatter.
	Body string
	// ContentHash is the sha256 hex digest of the raw file bytes.
	ContentHash string
}

// ID derives a stable skill identifier from a path. It is a pure function
// of the cleaned path, so re-indexing the same file always maps to the
// same record.
func ID(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return hex.EncodeToString(sum[:])[:16]
}

// Parse reads and parses a SKILL.md file.
func Parse(path string) (*File, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	data, digest, err := readLimitedAndDigest(abs)
	if err != nil {
		return nil, err
	}

	fm, body, hasFM, err := splitFrontmatter(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	meta := map[string]any{}
	if hasFM {
		if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
			return nil, fmt.Errorf("%s: invalid frontmatter YAML: %w", abs, err)
		}
	}

	name := strings.TrimSpace(asString(meta["name"]))
	if name == "" {
		name = filepath.Base(filepath.Dir(abs))
	}
	desc := strings.TrimSpace(asString(meta["description"]))

	return &File{
		Name:        name,
		Description: desc,
		Path:        abs,
		Metadata:    meta,
		Body:        strings.TrimLeft(body, "\r\n"),
		ContentHash: digest,
	}, nil
}

// EmbeddingText returns the text fed to the embedding engine: name,
// description, and the head of the body.
func (f *File) EmbeddingText() string {
	var b strings.Builder
	b.WriteString(f.Name)
	if f.Description != "" {
		b.WriteString("\n")
		b.WriteString(f.Description)
	}
	body := f.Body
	if len(body) > embedBodyLimit {
		body = body[:embedBodyLimit]
	}
	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
	}
	return b.String()
}

// HashFile computes the sha256 hex digest of a file without parsing it.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readLimitedAndDigest(path string) (data []byte, digest string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err = io.ReadAll(io.LimitReader(f, int64(maxSkillBytes)+1))
	if err != nil {
		return nil, "", err
	}
	if len(data) > maxSkillBytes {
		return nil, "", fmt.Errorf("%s too large (max %d bytes)", FileName, maxSkillBytes)
	}

	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

func splitFrontmatter(s string) (frontmatter, body string, has bool, err error) {
	br := bufio.NewReader(strings.NewReader(s))

	first, ferr := br.ReadString('\n')
	if ferr != nil && !errors.Is(ferr, io.EOF) {
		return "", "", false, ferr
	}
	if strings.TrimSpace(strings.TrimRight(first, "\r\n")) != "---" {
		return "", s, false, nil
	}

	var fmLines []string
	foundEnd := false
	for {
		line, lerr := br.ReadString('\n')
		if lerr != nil && !errors.Is(lerr, io.EOF) {
			return "", "", false, lerr
		}
		lineTrim := strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(lineTrim) == "---" {
			foundEnd = true
			break
		}
		fmLines = append(fmLines, lineTrim)
		if errors.Is(lerr, io.EOF) {
			break
		}
	}
	if !foundEnd {
		return "", "", false, errors.New("unterminated frontmatter (missing closing ---)")
	}

	rest, err := io.ReadAll(br)
	if err != nil {
		return "", "", false, err
	}
	return strings.Join(fmLines, "\n"), string(rest), true, nil
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
