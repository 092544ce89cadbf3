// Package configset discovers the YAML files that make up a Home
// Assistant configuration tree and classifies each by the role the
// platform gives it (automations, scripts, scenes, blueprints, secrets).
package configset

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Kind is the role of a configuration file.
type Kind int

const (
	KindOther Kind = iota
	KindCore
	KindAutomation
	KindScript
	KindScene
	KindBlueprint
	KindSecrets
)

func (k Kind) String() string {
	switch k {
	case KindCore:
		return "core"
	case KindAutomation:
		return "automation"
	case KindScript:
		return "script"
	case KindScene:
		return "scene"
	case KindBlueprint:
		return "blueprint"
	case KindSecrets:
		return "secrets"
	default:
		return "other"
	}
}

// HoldsReferences reports whether files of this kind are checked for
// entity, device and area references.
func (k Kind) HoldsReferences() bool {
	switch k {
	case KindAutomation, KindScript, KindScene, KindBlueprint:
		return true
	}
	return false
}

// File is one discovered configuration file.
type File struct {
	Path    string    // path on disk
	Rel     string    // slash-separated path relative to the root
	Kind    Kind      // role of the file
	ModTime time.Time // last modification, for snapshot staleness checks
}

// DefaultIgnore mirrors the directories excluded from the pull/push
// transfer: runtime state, backups, and assets that are not configuration.
func DefaultIgnore() []string {
	return []string{
		".storage/**",
		".cloud/**",
		".git/**",
		"backups/**",
		"tmp_backups/**",
		"custom_components/**",
		"deps/**",
		"image/**",
		"tts/**",
		"www/**",
		"esphome/.esphome/**",
	}
}

// DefaultBlueprintDirs are the directories whose files are blueprints.
func DefaultBlueprintDirs() []string {
	return []string{"blueprints"}
}

// Options controls discovery.
type Options struct {
	// Root is the configuration directory (the one holding configuration.yaml).
	Root string

	// Ignore holds doublestar patterns matched against root-relative
	// slash paths. Nil means DefaultIgnore.
	Ignore []string

	// SecretsFile is the base name of secrets files. Default "secrets.yaml".
	SecretsFile string

	// BlueprintDirs are root-relative directories holding blueprints.
	// Nil means DefaultBlueprintDirs.
	BlueprintDirs []string
}

func (o *Options) applyDefaults() {
	if o.Ignore == nil {
		o.Ignore = DefaultIgnore()
	}
	if o.SecretsFile == "" {
		o.SecretsFile = "secrets.yaml"
	}
	if o.BlueprintDirs == nil {
		o.BlueprintDirs = DefaultBlueprintDirs()
	}
}

// Discover walks the root and returns every YAML file not excluded by an
// ignore pattern, in lexical order of their relative paths.
func Discover(opts Options) ([]File, error) {
	opts.applyDefaults()

	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("configuration root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("configuration root %s is not a directory", opts.Root)
	}

	for _, p := range opts.Ignore {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
	}

	var files []File
	err = filepath.WalkDir(opts.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(opts.Root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if IgnoredDir(opts.Ignore, rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsYAML(rel) || Ignored(opts.Ignore, rel) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, File{
			Path:    p,
			Rel:     rel,
			Kind:    Classify(rel, opts.SecretsFile, opts.BlueprintDirs),
			ModTime: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", opts.Root, err)
	}
	return files, nil
}

// IsYAML reports whether name has a YAML extension.
func IsYAML(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Classify determines the role of a root-relative slash path.
func Classify(rel, secretsFile string, blueprintDirs []string) Kind {
	if secretsFile == "" {
		secretsFile = "secrets.yaml"
	}
	if path.Base(rel) == secretsFile {
		return KindSecrets
	}
	for _, dir := range blueprintDirs {
		dir = strings.Trim(filepath.ToSlash(dir), "/")
		if dir != "" && strings.HasPrefix(rel, dir+"/") {
			return KindBlueprint
		}
	}

	first, _, nested := strings.Cut(rel, "/")
	stem := strings.TrimSuffix(strings.TrimSuffix(rel, ".yaml"), ".yml")
	switch {
	case rel == "configuration.yaml" || rel == "configuration.yml":
		return KindCore
	case stem == "automations" || (nested && first == "automations"):
		return KindAutomation
	case stem == "scripts" || (nested && first == "scripts"):
		return KindScript
	case stem == "scenes" || (nested && first == "scenes"):
		return KindScene
	}
	return KindOther
}

// Ignored reports whether the root-relative slash path rel matches any
// of patterns.
func Ignored(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// IgnoredDir reports whether a directory is excluded, either directly or
// because a "dir/**" pattern covers everything below it.
func IgnoredDir(patterns []string, rel string) bool {
	if Ignored(patterns, rel) {
		return true
	}
	for _, p := range patterns {
		base, ok := strings.CutSuffix(p, "/**")
		if !ok {
			continue
		}
		if m, _ := doublestar.Match(base, rel); m {
			return true
		}
	}
	return false
}
