// Package scanner implements the unsafe-import scanner (C3): a bounded
// static text scan of a plugin's source tree for references to a
// denylist of host-platform modules, grounded on the reference stack's
// dynamic-component sandbox denylist and its goroutine-and-select
// execution-timeout pattern.
package scanner

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Denylist names host-platform modules a plugin must never import,
// grounded on the reference stack's BlockedPackages set and extended with
// their namespaced/cross-language equivalents (filesystem, process,
// subprocess, networking, crypto-bypass, clustering, and thread-control
// surfaces).
var Denylist = map[string]bool{
	"os":             true,
	"os/exec":        true,
	"syscall":        true,
	"unsafe":         true,
	"plugin":         true,
	"runtime/debug":  true,
	"reflect":        true,
	"net":            true,
	"net/rpc":        true,
	"crypto/tls":     true,
	"debug/elf":      true,
	"debug/macho":    true,
	"debug/pe":       true,
	"debug/plan9obj": true,
	"child_process":  true,
	"subprocess":     true,
	"multiprocessing": true,
	"threading":      true,
	"ctypes":         true,
	"socket":         true,
}

var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".rb": true, ".rs": true, ".java": true,
}

var importRe = regexp.MustCompile(`(?:import|require)\s*\(?\s*["'` + "`" + `]?([A-Za-z0-9_./-]+)["'` + "`" + `]?`)

// Limits bounds a single file's scan cost.
type Limits struct {
	// MaxContentSize is the largest file, in bytes, the scanner will read.
	// Larger files are skipped without being marked unsafe.
	MaxContentSize int64
	// MaxIterations bounds the number of lines examined per file.
	MaxIterations int
	// RegexTimeoutMs bounds wall-time spent scanning a single file.
	RegexTimeoutMs int
}

// DefaultLimits matches the documented defaults.
func DefaultLimits() Limits {
	return Limits{MaxContentSize: 1 << 20, MaxIterations: 10000, RegexTimeoutMs: 5000}
}

// Finding is one file's scan outcome.
type Finding struct {
	RelativePath      string
	DisallowedModules []string
	ScanFailed        bool
}

// Scan walks root and returns a Finding for every examined file that
// references a denylisted module, or failed to scan within budget.
// Directory walk skips dot-directories and dependency-cache directories.
func Scan(root string, limits Limits) ([]Finding, error) {
	var findings []Finding

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && isSkippedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !codeExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}

		info, statErr := d.Info()
		if statErr != nil {
			return statErr
		}
		if info.Size() > limits.MaxContentSize {
			return nil
		}

		modules, scanFailed := scanFile(path, limits)
		if len(modules) > 0 || scanFailed {
			findings = append(findings, Finding{RelativePath: rel, DisallowedModules: modules, ScanFailed: scanFailed})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: walk %s: %w", root, err)
	}
	return findings, nil
}

var skippedDirs = map[string]bool{
	"node_modules": true, "vendor": true, ".git": true, "__pycache__": true, "target": true,
}

func isSkippedDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return skippedDirs[name]
}

// scanFile runs the bounded import scan over a single file, returning the
// denylisted modules referenced and whether the scan hit its time or
// iteration budget (in which case the file is treated as unsafe).
func scanFile(path string, limits Limits) ([]string, bool) {
	type result struct {
		modules []string
		failed  bool
	}
	ch := make(chan result, 1)

	go func() {
		f, err := os.Open(path)
		if err != nil {
			ch <- result{failed: true}
			return
		}
		defer f.Close()

		seen := make(map[string]bool)
		var modules []string
		scanner := bufio.NewScanner(f)
		iterations := 0
		for scanner.Scan() {
			iterations++
			if iterations > limits.MaxIterations {
				ch <- result{modules: modules, failed: true}
				return
			}
			line := scanner.Text()
			for _, m := range importRe.FindAllStringSubmatch(line, -1) {
				name := normalizeModule(m[1])
				if Denylist[name] && !seen[name] {
					seen[name] = true
					modules = append(modules, name)
				}
			}
		}
		ch <- result{modules: modules, failed: scanner.Err() != nil}
	}()

	timeout := time.Duration(limits.RegexTimeoutMs) * time.Millisecond
	select {
	case res := <-ch:
		return res.modules, res.failed
	case <-time.After(timeout):
		return nil, true
	}
}

// normalizeModule falls back to the last path segment so that namespaced
// variants (e.g. "golang.org/x/net") still match a bare "net" denylist
// entry only when it is a genuine path component, not a prefix.
func normalizeModule(raw string) string {
	raw = strings.Trim(raw, `"'`+"`")
	if Denylist[raw] {
		return raw
	}
	parts := strings.Split(raw, "/")
	last := parts[len(parts)-1]
	if Denylist[last] {
		return last
	}
	return raw
}
