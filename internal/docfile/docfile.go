// Package docfile reads and writes one document file at a time: the
// front-matter block plus optional body, atomically and crash-safely.
//
// Front matter is delimited by "---\n" on its own line at the start of the
// file and "\n---\n" at the end. The YAML between the fences is decoded with
// gopkg.in/yaml.v3 into a generic map, unlike the teacher's restricted
// scalar/list/object-only frontmatter grammar: GroundDB's schema allows
// nested objects, polymorphic ref mappings and arbitrary lists, which that
// grammar cannot express, so this package reaches for a real YAML decoder
// instead of reusing it verbatim (see DESIGN.md).
package docfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	groundfs "github.com/groundb/groundb/pkg/fs"
)

const (
	openFence  = "---\n"
	closeFence = "\n---\n"
)

// Document is the result of reading one document file.
type Document struct {
	ID         string
	CreatedAt  time.Time
	ModifiedAt time.Time
	Data       map[string]any
	Content    string // empty means no body
}

// Read loads and parses the document file at absPath. id is the filename
// stem (caller already knows it from path derivation, but Read recomputes
// it defensively from absPath).
func Read(fsys groundfs.FS, absPath string) (*Document, error) {
	info, err := fsys.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("docfile: stat %s: %w", absPath, err)
	}

	raw, err := fsys.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("docfile: read %s: %w", absPath, err)
	}

	data, content, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("docfile: parse %s: %w", absPath, err)
	}

	stem := strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath))

	return &Document{
		ID:         stem,
		CreatedAt:  ctimeOrModTime(info),
		ModifiedAt: info.ModTime(),
		Data:       data,
		Content:    content,
	}, nil
}

// Parse splits raw file bytes into front matter data and trailing body,
// per the documented edge cases:
//   - no opening fence: body-only, empty data
//   - opening fence with no closing fence: data-only (no content)
//   - both fences: data plus body, with a single blank line after the
//     closing fence stripped before the body begins
func Parse(raw []byte) (map[string]any, string, error) {
	if !bytes.HasPrefix(raw, []byte(openFence)) {
		return map[string]any{}, string(raw), nil
	}

	rest := raw[len(openFence):]

	idx := bytes.Index(rest, []byte(closeFence))
	if idx < 0 {
		// No closing fence: treat everything after the opening fence as YAML.
		data, err := decodeYAML(rest)
		if err != nil {
			return nil, "", err
		}

		return data, "", nil
	}

	yamlBlock := rest[:idx]
	body := rest[idx+len(closeFence):]

	data, err := decodeYAML(yamlBlock)
	if err != nil {
		return nil, "", err
	}

	content := string(body)
	if strings.TrimSpace(content) == "" {
		content = ""
	}

	return data, content, nil
}

func decodeYAML(raw []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}

	var data map[string]any

	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}

	if data == nil {
		data = map[string]any{}
	}

	return normalizeYAMLMap(data), nil
}

// normalizeYAMLMap recursively converts map[any]any-shaped nodes (a quirk of
// some yaml.v3 decode paths) into map[string]any so downstream validation
// and JSON serialization see a consistent tree.
func normalizeYAMLMap(v any) map[string]any {
	out := map[string]any{}

	switch m := v.(type) {
	case map[string]any:
		for k, val := range m {
			out[k] = normalizeValue(val)
		}
	case map[any]any:
		for k, val := range m {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}
	}

	return out
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case map[string]any, map[any]any:
		return normalizeYAMLMap(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalizeValue(item)
		}

		return out
	default:
		return x
	}
}

// Serialize renders data and an optional body back into file bytes:
// "---\n<yaml>\n---\n" followed by, if content is non-empty, a blank line
// then the body.
func Serialize(data map[string]any, content string) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}

	yamlBytes, err := yaml.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("docfile: marshal yaml: %w", err)
	}

	var b bytes.Buffer

	b.WriteString(openFence)
	b.Write(yamlBytes)
	b.WriteString("---\n")

	if strings.TrimSpace(content) != "" {
		b.WriteString("\n")
		b.WriteString(content)
	}

	return b.Bytes(), nil
}

// Write creates missing parent directories and persists data/content to
// absPath via write-to-temp-in-same-dir-then-rename, for crash safety. The
// write goes through fsys end to end, so callers that inject a fault-
// injecting [groundfs.FS] observe failures on this path too.
func Write(fsys groundfs.FS, absPath string, data map[string]any, content string) error {
	if err := fsys.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("docfile: mkdir %s: %w", filepath.Dir(absPath), err)
	}

	raw, err := Serialize(data, content)
	if err != nil {
		return err
	}

	writer := groundfs.NewAtomicWriter(fsys)

	if err := writer.WriteWithDefaults(absPath, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("docfile: write %s: %w", absPath, err)
	}

	return nil
}

// Delete removes the file at absPath, then prunes newly empty parent
// directories up to (but not including) root. Pruning is best-effort and
// never returns an error to the caller beyond the initial remove.
func Delete(fsys groundfs.FS, root, absPath string) error {
	if err := fsys.Remove(absPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("docfile: remove %s: %w", absPath, err)
	}

	pruneEmptyParents(fsys, root, filepath.Dir(absPath))

	return nil
}

// Move renames a file from one path to another and prunes empty parents of
// the source directory.
func Move(fsys groundfs.FS, root, from, to string) error {
	if err := fsys.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("docfile: mkdir %s: %w", filepath.Dir(to), err)
	}

	if err := fsys.Rename(from, to); err != nil {
		return fmt.Errorf("docfile: rename %s -> %s: %w", from, to, err)
	}

	pruneEmptyParents(fsys, root, filepath.Dir(from))

	return nil
}

// pruneEmptyParents walks upward from dir removing empty directories until
// it reaches root or hits a non-empty one. Never surfaces an error: this is
// best-effort cosmetic cleanup.
func pruneEmptyParents(fsys groundfs.FS, root, dir string) {
	root = filepath.Clean(root)

	for {
		dir = filepath.Clean(dir)
		if dir == root || dir == "." || dir == string(filepath.Separator) || !strings.HasPrefix(dir, root) {
			return
		}

		entries, err := fsys.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}

		if err := fsys.Remove(dir); err != nil {
			return
		}

		dir = filepath.Dir(dir)
	}
}

// ctimeOrModTime returns the platform ctime when available, falling back to
// mtime — spec open question (a): ctime semantics vary across platforms.
func ctimeOrModTime(info os.FileInfo) time.Time {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec)
	}

	return info.ModTime()
}
