// Package manifest implements the plugin manifest data shape and the
// structural and semantic validator (C2): required fields, identifier
// shapes, dependency constraints, guard shapes, and the security block.
package manifest

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/GoCodeAlone/pluginhost/semver"
)

// TrustLevel is the declared provenance of a plugin.
type TrustLevel string

const (
	TrustInternal  TrustLevel = "internal"
	TrustVerified  TrustLevel = "verified"
	TrustCommunity TrustLevel = "community"
)

// GuardScope distinguishes a plugin's own guard declaration from a
// reference to one exported by another plugin.
type GuardScope string

const (
	GuardLocal    GuardScope = "local"
	GuardExternal GuardScope = "external"
)

// Guard is the discriminated union of LocalGuard and ExternalGuard from
// the manifest JSON shape.
type Guard struct {
	Name         string     `json:"name"`
	Scope        GuardScope `json:"scope"`
	Class        string     `json:"class,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Exported     bool       `json:"exported,omitempty"`
	Source       string     `json:"source,omitempty"`
}

// Module describes a plugin's exposed composition.
type Module struct {
	Controllers []string `json:"controllers,omitempty"`
	Providers   []string `json:"providers,omitempty"`
	Exports     []string `json:"exports,omitempty"`
	Imports     []string `json:"imports,omitempty"`
	Guards      []Guard  `json:"guards,omitempty"`
}

// Compatibility declares host/runtime version bounds.
type Compatibility struct {
	HostMin    string `json:"hostMin,omitempty"`
	HostMax    string `json:"hostMax,omitempty"`
	RuntimeMin string `json:"runtimeMin,omitempty"`
}

// Checksum names a digest algorithm and its hex value.
type Checksum struct {
	Algorithm string `json:"algorithm"`
	Hash      string `json:"hash"`
}

// Signature is an opaque signature block; the core does not verify it, per
// the Non-goals.
type Signature struct {
	Algorithm string `json:"algorithm,omitempty"`
	Value     string `json:"value,omitempty"`
}

// Sandbox carries declarative, non-enforced resource hints.
type Sandbox struct {
	MaxMemoryMB int `json:"maxMemoryMB,omitempty"`
	MaxCPUPct   int `json:"maxCPUPercent,omitempty"`
}

// Security is the manifest's trust and integrity block.
type Security struct {
	TrustLevel TrustLevel `json:"trustLevel"`
	Checksum   *Checksum  `json:"checksum,omitempty"`
	Signature  *Signature `json:"signature,omitempty"`
	Sandbox    *Sandbox   `json:"sandbox,omitempty"`
}

// Manifest is the declarative JSON description of a plugin, per §3 and §6.
type Manifest struct {
	Name          string        `json:"name"`
	Version       string        `json:"version"`
	Description   string        `json:"description"`
	Author        string        `json:"author"`
	License       string        `json:"license,omitempty"`
	APIVersion    string        `json:"apiVersion,omitempty"`
	LoadOrder     int           `json:"loadOrder,omitempty"`
	Critical      bool          `json:"critical,omitempty"`
	Dependencies  []string      `json:"dependencies,omitempty"`
	Compatibility Compatibility `json:"compatibility,omitempty"`
	Security      Security      `json:"security"`
	Module        Module        `json:"module"`
}

// Severity selects how much of the manifest Validate checks.
type Severity int

const (
	// Trusted checks only name and version.
	Trusted Severity = iota
	// Essential checks required fields and shapes, used by discovery.
	Essential
	// Full runs every invariant in §3, used by the load pipeline.
	Full
)

// Result is the outcome of a single validation pass.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

var pluginNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,49}$`)

// Validate checks m against severity and returns the accumulated errors
// and warnings. It never panics and never short-circuits on the first
// problem, so a caller sees every violation in one pass.
func Validate(m *Manifest, severity Severity) Result {
	var errs, warns []string

	if m.Name == "" {
		errs = append(errs, "name is required")
	} else if !pluginNameRe.MatchString(m.Name) {
		errs = append(errs, fmt.Sprintf("name %q does not match ^[a-z][a-z0-9_-]{1,49}$", m.Name))
	}

	if m.Version == "" {
		errs = append(errs, "version is required")
	} else if _, err := semver.Parse(m.Version); err != nil {
		errs = append(errs, fmt.Sprintf("invalid version %q: %v", m.Version, err))
	}

	if severity == Trusted {
		return finish(errs, warns)
	}

	if m.Description == "" {
		errs = append(errs, "description is required")
	}
	if m.Author == "" {
		errs = append(errs, "author is required")
	}

	switch m.Security.TrustLevel {
	case TrustInternal, TrustVerified, TrustCommunity:
	case "":
		errs = append(errs, "security.trustLevel is required")
	default:
		errs = append(errs, fmt.Sprintf("security.trustLevel %q is not one of internal, verified, community", m.Security.TrustLevel))
	}

	if m.Security.Checksum != nil {
		validateChecksum(*m.Security.Checksum, &errs, &warns)
	}

	validateGuards(m.Module.Guards, &errs)

	if severity == Essential {
		return finish(errs, warns)
	}

	validatePaths(m, &errs)

	return finish(errs, warns)
}

func finish(errs, warns []string) Result {
	return Result{Valid: len(errs) == 0, Errors: errs, Warnings: warns}
}

func validateChecksum(c Checksum, errs, warns *[]string) {
	switch strings.ToUpper(c.Algorithm) {
	case "SHA-256", "SHA256", "SHA-512", "SHA512":
	case "MD5":
		*warns = append(*warns, "security.checksum.algorithm MD5 is weak; prefer SHA-256 or SHA-512")
	default:
		*errs = append(*errs, fmt.Sprintf("security.checksum.algorithm %q must be SHA-256 or SHA-512 (MD5 is a warning)", c.Algorithm))
	}
}

func validateGuards(guards []Guard, errs *[]string) {
	seen := make(map[string]bool)
	for _, g := range guards {
		if seen[g.Name] {
			*errs = append(*errs, fmt.Sprintf("duplicate guard name %q", g.Name))
			continue
		}
		seen[g.Name] = true

		switch g.Scope {
		case GuardLocal:
			for _, dep := range g.Dependencies {
				if dep == g.Name {
					*errs = append(*errs, fmt.Sprintf("guard %q depends on itself", g.Name))
				}
			}
		case GuardExternal:
			if g.Source == "" {
				*errs = append(*errs, fmt.Sprintf("external guard %q is missing source", g.Name))
			}
		default:
			*errs = append(*errs, fmt.Sprintf("guard %q has unknown scope %q", g.Name, g.Scope))
		}
	}

	if cyc := findGuardCycle(guards); cyc != "" {
		*errs = append(*errs, fmt.Sprintf("guard dependency cycle detected: %s", cyc))
	}
}

// findGuardCycle checks only local-guard dependency edges within a single
// manifest, per the invariant that guard dependencies are acyclic within
// the plugin.
func findGuardCycle(guards []Guard) string {
	byName := make(map[string]Guard, len(guards))
	for _, g := range guards {
		byName[g.Name] = g
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var stack []string
	var found string

	var visit func(name string)
	visit = func(name string) {
		if found != "" || color[name] == black {
			return
		}
		if color[name] == gray {
			idx := 0
			for i, s := range stack {
				if s == name {
					idx = i
					break
				}
			}
			found = strings.Join(append(append([]string{}, stack[idx:]...), name), " -> ")
			return
		}
		color[name] = gray
		stack = append(stack, name)
		if g, ok := byName[name]; ok && g.Scope == GuardLocal {
			for _, dep := range g.Dependencies {
				visit(dep)
				if found != "" {
					break
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
	}

	for _, g := range guards {
		visit(g.Name)
		if found != "" {
			return found
		}
	}
	return ""
}

// validatePaths rejects absolute or traversal-laden references anywhere a
// manifest names a file path (only the class field can plausibly carry
// one in this shape).
func validatePaths(m *Manifest, errs *[]string) {
	for _, g := range m.Module.Guards {
		if g.Class == "" {
			continue
		}
		if filepath.IsAbs(g.Class) || strings.Contains(g.Class, "..") {
			*errs = append(*errs, fmt.Sprintf("guard %q class reference %q is an absolute or traversal path", g.Name, g.Class))
		}
	}
}

// Parse decodes raw JSON bytes into a Manifest without validating it.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	return &m, nil
}
