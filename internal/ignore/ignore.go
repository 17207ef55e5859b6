// Package ignore resolves the gitignore-style rules that decide which files of a
// local directory are mirrored to a remote.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/syncr/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// DefaultMergeFile is the per-directory rules file read from the root and every
// directory below it.
const DefaultMergeFile = ".gitignore"

var ErrInvalidPattern = errors.New("invalid ignore pattern")

var braceEscaper = strings.NewReplacer("{", `\{`, "}", `\}`)

// Resolver builds Rules for a directory. Defaults apply before the directory's own
// ignore file.
type Resolver struct {
	MergeFile string
	Defaults  []string
}

func NewResolver(defaults []string) *Resolver {
	return &Resolver{
		MergeFile: DefaultMergeFile,
		Defaults:  slices.Clone(defaults),
	}
}

// Resolve reads root's ignore file and combines it with the defaults and extra.
// Later patterns take precedence; a leading `!` re-includes. Ignore files of
// directories below root that are not themselves ignored are collected too.
func (r *Resolver) Resolve(root string, extra []string) (*Rules, error) {
	mergeFile := r.MergeFile
	if mergeFile == "" {
		mergeFile = DefaultMergeFile
	}

	for _, p := range append(slices.Clone(r.Defaults), extra...) {
		if err := ValidatePattern(p); err != nil {
			return nil, err
		}
	}

	ignorePath := filepath.Join(root, mergeFile)
	local, err := readPatternFile(ignorePath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ignorePath, err)
	}
	if local != nil {
		slog.Debug("loaded ignore file", "path", ignorePath, "rules", len(local))
	}

	rules := &Rules{
		root:      root,
		mergeFile: mergeFile,
		defaults:  slices.Clone(r.Defaults),
		local:     local,
		extra:     slices.Clone(extra),
	}
	rules.matcher = gitignore.CompileIgnoreLines(rules.Patterns()...)

	err = rules.walk(func(p, rel string) ([]string, error) {
		lines, err := readPatternFile(filepath.Join(p, mergeFile))
		if len(lines) > 0 {
			rules.nested = append(rules.nested, ignoreFile{dir: rel, lines: lines})
		}
		return lines, err
	}, func(string, fs.DirEntry) error { return nil })
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if len(rules.nested) > 0 {
		slog.Debug("loaded nested ignore files", "root", root, "files", len(rules.nested))
	}

	return rules, nil
}

// ValidatePattern rejects patterns that cannot be expressed as a glob. Braces are
// literal in ignore files, so they are escaped before the glob check.
func ValidatePattern(p string) error {
	glob := strings.TrimPrefix(strings.TrimSpace(p), "!")
	glob = strings.Trim(glob, "/")
	glob = braceEscaper.Replace(glob)
	if glob == "" || !doublestar.ValidatePattern(glob) {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, p)
	}
	return nil
}

// Rules is the resolved rule set for one directory tree.
type Rules struct {
	root      string
	mergeFile string
	defaults  []string
	local     []string
	extra     []string
	matcher   *gitignore.GitIgnore

	// nested holds the ignore files below the root in walk order, parents first.
	nested []ignoreFile
}

type ignoreFile struct {
	dir   string
	lines []string
}

func (r *Rules) Root() string {
	return r.root
}

// Patterns returns the effective root-level patterns in evaluation order.
func (r *Rules) Patterns() []string {
	out := make([]string, 0, len(r.defaults)+len(r.local)+len(r.extra))
	out = append(out, r.defaults...)
	out = append(out, r.local...)
	out = append(out, r.extra...)
	return out
}

// FilterArgs renders the rules as rsync filter rules. rsync stops at the first
// matching rule while in an ignore file the last matching line wins, so every
// source is emitted in reverse and sources come in falling precedence: extras,
// nested ignore files (deepest first), the root ignore file, then the defaults.
func (r *Rules) FilterArgs() []string {
	var out []string
	out = appendFilterRules(out, r.extra, rootPatterns)
	for i := len(r.nested) - 1; i >= 0; i-- {
		f := r.nested[i]
		out = appendFilterRules(out, f.lines, func(p string) []string {
			return nestedPatterns(f.dir, p)
		})
	}
	out = appendFilterRules(out, r.local, rootPatterns)
	out = appendFilterRules(out, r.defaults, rootPatterns)
	return out
}

func appendFilterRules(out, lines []string, render func(string) []string) []string {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		prefix := "- "
		if rest, ok := strings.CutPrefix(line, "!"); ok {
			prefix = "+ "
			line = rest
		}
		for _, p := range render(line) {
			out = append(out, prefix+p)
		}
	}
	return out
}

// rootPatterns anchors patterns with an inner slash at the transfer root. rsync
// matches them against the end of any path otherwise.
func rootPatterns(p string) []string {
	if !strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "**/") && strings.Contains(strings.TrimSuffix(p, "/"), "/") {
		return []string{"/" + p}
	}
	return []string{p}
}

// nestedPatterns confines a pattern from the ignore file of dir to dir's subtree.
// A pattern without an inner slash matches directly in dir and at any depth below.
func nestedPatterns(dir, p string) []string {
	if strings.Contains(strings.TrimSuffix(p, "/"), "/") {
		return []string{"/" + dir + "/" + strings.TrimPrefix(p, "/")}
	}
	return []string{"/" + dir + "/" + p, "/" + dir + "/**/" + p}
}

// ShouldIgnore reports whether rel, a slash-separated path relative to the root, is
// excluded by the root-level rules.
func (r *Rules) ShouldIgnore(rel string, isDir bool) bool {
	return matches(r.matcher, rel, isDir)
}

func matches(m *gitignore.GitIgnore, rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	if isDir && !strings.HasSuffix(rel, "/") {
		rel += "/"
	}
	return m.MatchesPath(rel)
}

// WalkFunc receives every entry that survives the rules. rel is slash-separated and
// relative to the root.
type WalkFunc func(rel string, d fs.DirEntry) error

// Walk visits the tree under the root the way a transfer would see it. Ignore files
// in subdirectories are applied to their own subtree; ignored directories are not
// descended into.
func (r *Rules) Walk(fn WalkFunc) error {
	byDir := make(map[string][]string, len(r.nested))
	for _, f := range r.nested {
		byDir[f.dir] = f.lines
	}
	return r.walk(func(_, rel string) ([]string, error) {
		return byDir[rel], nil
	}, fn)
}

// walk drives Walk and the ignore file scan of Resolve. load returns the ignore
// file lines of the directory at p, which is rel below the root.
func (r *Rules) walk(load func(p, rel string) ([]string, error), fn WalkFunc) error {
	base := append(slices.Clone(r.defaults), r.local...)
	matcher := r.matcher

	return filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == r.root {
			return nil
		}

		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if matches(matcher, rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			nested, err := load(p, rel)
			if err != nil {
				return err
			}
			if len(nested) > 0 {
				for _, line := range nested {
					base = append(base, anchor(rel, line))
				}
				lines := append(slices.Clone(base), r.extra...)
				matcher = gitignore.CompileIgnoreLines(lines...)
			}
		}

		return fn(rel, d)
	})
}

// anchor rewrites a pattern from the ignore file of directory dir so it only matches
// inside dir. Patterns with an inner slash are relative to dir; the rest match at any
// depth below it.
func anchor(dir, pattern string) string {
	negate := false
	if rest, ok := strings.CutPrefix(pattern, "!"); ok {
		negate = true
		pattern = rest
	}

	var out string
	if strings.Contains(strings.TrimSuffix(pattern, "/"), "/") {
		out = "/" + dir + "/" + strings.TrimPrefix(pattern, "/")
	} else {
		out = "/" + dir + "/**/" + pattern
	}

	if negate {
		return "!" + out
	}
	return out
}

// readPatternFile returns the non-blank, non-comment lines of path, or nil when the
// file does not exist.
func readPatternFile(path string) ([]string, error) {
	if !utils.FileExists(path) {
		return nil, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
