// Package skills implements optional skill-library persistence: a
// per-workspace directory of named, semver-versioned skill bundles a plan
// can save and later reload. Storage is plain os/io/fs (no filesystem
// abstraction library is pulled in for this — see DESIGN.md) laid out as
// <root>/<skill>/<version>/, with Masterminds/semver/v3 used for version
// ordering and comparison the way the pack's own pack-registry code does.
package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/goplan/orchestrator/orcherr"
)

// manifest is the per-version sidecar record saved alongside a skill's
// content, mirroring the pack's manifest-per-version directory layout but
// in YAML since this is a record this package itself writes and reads, not
// a tool schema loaded from outside.
type manifest struct {
	Name    string    `yaml:"name"`
	Version string    `yaml:"version"`
	Hash    string    `yaml:"hash"`
	SavedAt time.Time `yaml:"saved_at"`
}

// Quota limits bound how much a single Library may hold.
const (
	MaxTotalBytes        = 100 * 1024 * 1024
	MaxSkillBytes        = 1 * 1024 * 1024
	MaxIntermediateBytes = 10 * 1024 * 1024
	MaxFiles             = 1000
)

type (
	// Skill is one stored bundle: a name, a semver version, its content, and
	// the time it was saved.
	Skill struct {
		Name      string
		Version   string
		Content   []byte
		SavedAt   time.Time
		Hash      string
	}

	// Library is a filesystem-backed skill store rooted at a directory.
	Library struct {
		mu   sync.Mutex
		root string
	}
)

// New constructs a Library rooted at root. The directory is created lazily
// on first Save.
func New(root string) *Library {
	return &Library{root: root}
}

// Save writes content as the next version of name. bump selects whether the
// new version is a major, minor, or patch increment over the highest
// existing version (a first save starts at "0.1.0" for BumpMinor/BumpPatch,
// "1.0.0" for BumpMajor). Save rejects content exceeding MaxSkillBytes, and
// fails with a BudgetExceeded error if saving would exceed MaxTotalBytes,
// MaxIntermediateBytes for the skill's own version history, or MaxFiles
// across the library.
func (l *Library) Save(name string, content []byte, bump Bump) (Skill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if name == "" {
		return Skill{}, orcherr.New(orcherr.ValidationError, "skill name must not be empty")
	}
	if len(content) > MaxSkillBytes {
		return Skill{}, orcherr.Newf(orcherr.BudgetExceeded, "skill %s: content %d bytes exceeds per-skill limit %d", name, len(content), MaxSkillBytes)
	}

	versions, err := l.listVersions(name)
	if err != nil {
		return Skill{}, orcherr.Wrap(orcherr.InternalError, fmt.Sprintf("skill %s: failed to list versions", name), err)
	}
	next, err := bump.apply(versions)
	if err != nil {
		return Skill{}, orcherr.Wrap(orcherr.ValidationError, fmt.Sprintf("skill %s: failed to compute next version", name), err)
	}

	intermediate, err := l.skillBytes(name)
	if err != nil {
		return Skill{}, orcherr.Wrap(orcherr.InternalError, fmt.Sprintf("skill %s: failed to size existing versions", name), err)
	}
	if intermediate+int64(len(content)) > MaxIntermediateBytes {
		return Skill{}, orcherr.Newf(orcherr.BudgetExceeded, "skill %s: version history would exceed %d bytes", name, MaxIntermediateBytes)
	}
	total, files, err := l.usage()
	if err != nil {
		return Skill{}, orcherr.Wrap(orcherr.InternalError, "failed to compute library usage", err)
	}
	if total+int64(len(content)) > MaxTotalBytes {
		return Skill{}, orcherr.Newf(orcherr.BudgetExceeded, "library: total %d bytes would exceed limit %d", total+int64(len(content)), MaxTotalBytes)
	}
	if files+2 > MaxFiles {
		return Skill{}, orcherr.Newf(orcherr.BudgetExceeded, "library: file count would exceed limit %d", MaxFiles)
	}

	dir := filepath.Join(l.root, name, next.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Skill{}, orcherr.Wrap(orcherr.InternalError, fmt.Sprintf("skill %s: failed to create version directory", name), err)
	}
	path := filepath.Join(dir, "skill.bin")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return Skill{}, orcherr.Wrap(orcherr.InternalError, fmt.Sprintf("skill %s: failed to write content", name), err)
	}

	sum := sha256.Sum256(content)
	savedAt := time.Now()
	man := manifest{Name: name, Version: next.String(), Hash: hex.EncodeToString(sum[:]), SavedAt: savedAt}
	manBytes, err := yaml.Marshal(man)
	if err != nil {
		return Skill{}, orcherr.Wrap(orcherr.InternalError, fmt.Sprintf("skill %s: failed to encode manifest", name), err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.yaml"), manBytes, 0o644); err != nil {
		return Skill{}, orcherr.Wrap(orcherr.InternalError, fmt.Sprintf("skill %s: failed to write manifest", name), err)
	}

	return Skill{
		Name:    name,
		Version: next.String(),
		Content: content,
		SavedAt: savedAt,
		Hash:    man.Hash,
	}, nil
}

// Load returns the skill at the given version, or its highest version when
// version is empty.
func (l *Library) Load(name, version string) (Skill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if version == "" {
		versions, err := l.listVersions(name)
		if err != nil {
			return Skill{}, orcherr.Wrap(orcherr.InternalError, fmt.Sprintf("skill %s: failed to list versions", name), err)
		}
		if len(versions) == 0 {
			return Skill{}, orcherr.Newf(orcherr.NotFound, "skill %q has no saved versions", name)
		}
		version = versions[len(versions)-1].String()
	}

	path := filepath.Join(l.root, name, version, "skill.bin")
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Skill{}, orcherr.Newf(orcherr.NotFound, "skill %q version %q not found", name, version)
		}
		return Skill{}, orcherr.Wrap(orcherr.InternalError, fmt.Sprintf("skill %s: failed to read content", name), err)
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	savedAt := time.Now()
	if manBytes, err := os.ReadFile(filepath.Join(l.root, name, version, "manifest.yaml")); err == nil {
		var man manifest
		if err := yaml.Unmarshal(manBytes, &man); err == nil {
			savedAt = man.SavedAt
			hash = man.Hash
		}
	}
	return Skill{
		Name:    name,
		Version: version,
		Content: content,
		SavedAt: savedAt,
		Hash:    hash,
	}, nil
}

// Versions lists all saved versions of name, oldest first.
func (l *Library) Versions(name string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	versions, err := l.listVersions(name)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.InternalError, fmt.Sprintf("skill %s: failed to list versions", name), err)
	}
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.String()
	}
	return out, nil
}

func (l *Library) listVersions(name string) ([]*semver.Version, error) {
	entries, err := os.ReadDir(filepath.Join(l.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var versions []*semver.Version
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := semver.NewVersion(e.Name())
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].LessThan(versions[j]) })
	return versions, nil
}

// skillBytes sums the content size of every saved version of name.
func (l *Library) skillBytes(name string) (int64, error) {
	return dirSize(filepath.Join(l.root, name))
}

// usage sums the library's total content size and file count.
func (l *Library) usage() (bytes int64, files int64, err error) {
	err = filepath.Walk(l.root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		bytes += info.Size()
		files++
		return nil
	})
	if os.IsNotExist(err) {
		err = nil
	}
	return bytes, files, err
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if os.IsNotExist(err) {
		err = nil
	}
	return size, err
}
