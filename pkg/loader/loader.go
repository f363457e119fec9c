// Package loader reads StructureDefinitions from local JSON and YAML files,
// directories and FHIR NPM packages (unpacked folders or .tgz archives),
// and renders generated snapshots back to FHIR JSON or YAML.
package loader

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofhir/snapshot/pkg/issue"
	"github.com/gofhir/snapshot/pkg/logger"
	"github.com/gofhir/snapshot/pkg/model"
)

// DefaultPackagePath returns the default FHIR package cache path.
func DefaultPackagePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fhir", "packages")
}

// PackageRef represents a reference to a FHIR package.
type PackageRef struct {
	Name    string
	Version string
}

// String returns the package spec in "name#version" format.
func (p PackageRef) String() string {
	return fmt.Sprintf("%s#%s", p.Name, p.Version)
}

// ParsePackageSpec parses "name#version" into separate components.
func ParsePackageSpec(spec string) (name, version string) {
	parts := strings.SplitN(spec, "#", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return spec, ""
}

// Package is a loaded FHIR package.
type Package struct {
	Name        string
	Version     string
	Path        string
	FHIRVersion string

	// Definitions holds the StructureDefinitions of the package in file
	// name order.
	Definitions []*model.StructureDefinition
}

// PackageManifest represents the package.json of a FHIR NPM package.
type PackageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	FHIRVersions []string          `json:"fhirVersions,omitempty"`
	FHIRVersion  string            `json:"fhirVersion,omitempty"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

func (m *PackageManifest) fhirVersion() string {
	if m.FHIRVersion != "" {
		return m.FHIRVersion
	}
	if len(m.FHIRVersions) > 0 {
		return m.FHIRVersions[0]
	}
	return ""
}

// Loader loads StructureDefinitions from local sources. Files that cannot
// be parsed are skipped and reported in Diagnostics.
type Loader struct {
	basePath    string
	log         *logger.Logger
	diagnostics *issue.Result
}

// NewLoader creates a Loader resolving package references under basePath,
// or under DefaultPackagePath when basePath is empty.
func NewLoader(basePath string) *Loader {
	if basePath == "" {
		basePath = DefaultPackagePath()
	}
	return &Loader{
		basePath:    basePath,
		log:         logger.Default(),
		diagnostics: issue.NewResult(),
	}
}

// BasePath returns the base path for packages.
func (l *Loader) BasePath() string {
	return l.basePath
}

// SetLogger replaces the logger used for skipped sources.
func (l *Loader) SetLogger(log *logger.Logger) {
	l.log = log
}

// Diagnostics returns the findings collected so far.
func (l *Loader) Diagnostics() *issue.Result {
	return l.diagnostics
}

// LoadFile parses one JSON or YAML file.
func (l *Loader) LoadFile(path string) ([]*model.StructureDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	sds, err := parseByExtension(path, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	l.noteDifferentials(sds)
	return sds, nil
}

func parseByExtension(name string, data []byte) ([]*model.StructureDefinition, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// isSourceFile reports whether name is a file LoadDir reads.
func isSourceFile(name string) bool {
	base := filepath.Base(name)
	if base == "package.json" || base == ".index.json" {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadDir walks dir recursively and parses every .json, .yaml and .yml
// file in lexical order. Documents that are not StructureDefinitions are
// ignored; files that fail to parse are skipped with a diagnostic.
func (l *Loader) LoadDir(dir string) ([]*model.StructureDefinition, error) {
	var out []*model.StructureDefinition
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isSourceFile(path) {
			return nil
		}

		sds, err := l.LoadFile(path)
		if err != nil {
			l.skip(path, err)
			return nil
		}
		out = append(out, sds...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return out, nil
}

// LoadPackage loads a FHIR NPM package from an unpacked folder (with or
// without the "package" sub-folder) or from a .tgz archive.
func (l *Loader) LoadPackage(path string) (*Package, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", path, err)
	}
	if !info.IsDir() {
		return l.LoadFromTgz(path)
	}

	pkgDir := path
	if sub := filepath.Join(path, "package"); isDir(sub) {
		pkgDir = sub
	}

	manifestData, err := os.ReadFile(filepath.Join(pkgDir, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read package manifest: %w", err)
	}
	pkg, err := newPackage(manifestData, path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(pkgDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isSourceFile(entry.Name()) {
			continue
		}
		filePath := filepath.Join(pkgDir, entry.Name())
		data, err := os.ReadFile(filePath)
		if err != nil {
			l.skip(filePath, err)
			continue
		}
		l.addPackageFile(pkg, filePath, data)
	}

	l.log.Info("loaded package %s with %d structure definitions", pkg.Name+"#"+pkg.Version, len(pkg.Definitions))
	return pkg, nil
}

// LoadPackageRef loads name#version from the package cache.
func (l *Loader) LoadPackageRef(ref PackageRef) (*Package, error) {
	pkgDir := filepath.Join(l.basePath, ref.String())
	if !isDir(pkgDir) {
		return nil, fmt.Errorf("package %s not found at %s", ref, pkgDir)
	}
	return l.LoadPackage(pkgDir)
}

// ListPackages returns all available packages in the cache.
func (l *Loader) ListPackages() ([]string, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, err
	}

	var packages []string
	for _, entry := range entries {
		if entry.IsDir() && strings.Contains(entry.Name(), "#") {
			packages = append(packages, entry.Name())
		}
	}
	return packages, nil
}

// LoadFromTgz loads a FHIR package from a local .tgz file.
func (l *Loader) LoadFromTgz(tgzPath string) (*Package, error) {
	file, err := os.Open(tgzPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open tgz file: %w", err)
	}
	defer file.Close()

	return l.loadFromTgzReader(file, tgzPath)
}

type archiveFile struct {
	name string
	data []byte
}

func (l *Loader) loadFromTgzReader(reader io.Reader, source string) (*Package, error) {
	gzReader, err := gzip.NewReader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)

	var manifestData []byte
	var files []archiveFile
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar entry: %w", err)
		}
		if header.Typeflag == tar.TypeDir {
			continue
		}

		// Only top-level package files; examples and other sub-folders are
		// not part of the package's definitions.
		name := strings.TrimPrefix(header.Name, "package/")
		if strings.Contains(name, "/") {
			continue
		}
		if name != "package.json" && !isSourceFile(name) {
			continue
		}

		data, err := io.ReadAll(tarReader)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", header.Name, err)
		}
		if name == "package.json" {
			manifestData = data
			continue
		}
		files = append(files, archiveFile{name: name, data: data})
	}

	if manifestData == nil {
		return nil, fmt.Errorf("package.json not found in %s", source)
	}
	pkg, err := newPackage(manifestData, source)
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	for _, f := range files {
		l.addPackageFile(pkg, source+"!"+f.name, f.data)
	}

	l.log.Info("loaded package %s with %d structure definitions", pkg.Name+"#"+pkg.Version, len(pkg.Definitions))
	return pkg, nil
}

func newPackage(manifestData []byte, path string) (*Package, error) {
	var manifest PackageManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse package manifest: %w", err)
	}
	return &Package{
		Name:        manifest.Name,
		Version:     manifest.Version,
		Path:        path,
		FHIRVersion: manifest.fhirVersion(),
	}, nil
}

// addPackageFile parses one package file. Packages hold many resource
// types; only StructureDefinitions are kept.
func (l *Loader) addPackageFile(pkg *Package, name string, data []byte) {
	var probe struct {
		ResourceType string `json:"resourceType"`
	}
	if strings.HasSuffix(name, ".json") {
		if err := json.Unmarshal(data, &probe); err != nil {
			l.skip(name, err)
			return
		}
		if probe.ResourceType != "StructureDefinition" && probe.ResourceType != "Bundle" {
			return
		}
	}

	sds, err := parseByExtension(name, data)
	if err != nil {
		if !errors.Is(err, ErrUnsupportedResource) {
			l.skip(name, err)
		}
		return
	}
	for _, sd := range sds {
		if sd.FHIRVersion == "" {
			sd.FHIRVersion = pkg.FHIRVersion
		}
	}
	l.noteDifferentials(sds)
	pkg.Definitions = append(pkg.Definitions, sds...)
}

func (l *Loader) skip(source string, err error) {
	if errors.Is(err, ErrUnsupportedResource) {
		return
	}
	l.log.Warn("skipping %s: %v", source, err)
	l.diagnostics.AddWithID(issue.DiagSourceSkipped, map[string]any{
		"source": source,
		"error":  err.Error(),
	}, source)
}

// noteDifferentials records definitions whose differential is ignored
// because they also ship a snapshot.
func (l *Loader) noteDifferentials(sds []*model.StructureDefinition) {
	for _, sd := range sds {
		if sd.Resolved() && len(sd.Differential) > 0 {
			l.diagnostics.AddWithID(issue.DiagDifferentialIgnored, map[string]any{"url": sd.URL}, sd.URL)
		}
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
