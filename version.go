package fhirsnapshot

import "github.com/gofhir/snapshot/pkg/loader"

// FHIRVersion represents a FHIR specification version.
type FHIRVersion string

// Supported FHIR versions.
const (
	// R4 is FHIR Release 4 (4.0.1)
	R4 FHIRVersion = "R4"
	// R4B is FHIR Release 4B (4.3.0)
	R4B FHIRVersion = "R4B"
	// R5 is FHIR Release 5 (5.0.0)
	R5 FHIRVersion = "R5"
)

// String returns the version string.
func (v FHIRVersion) String() string {
	return string(v)
}

// IsValid returns true if this is a supported FHIR version.
func (v FHIRVersion) IsValid() bool {
	_, ok := versionConfigs[v]
	return ok
}

// CorePackage returns the core package holding the base definitions of v.
func (v FHIRVersion) CorePackage() (loader.PackageRef, bool) {
	cfg, ok := versionConfigs[v]
	if !ok {
		return loader.PackageRef{}, false
	}
	return loader.PackageRef{Name: cfg.CorePackageName, Version: cfg.CorePackageVersion}, true
}

// Release returns the version string used in StructureDefinition.fhirVersion,
// e.g. "4.0.1".
func (v FHIRVersion) Release() string {
	return versionConfigs[v].FHIRVersionString
}

// ParseFHIRVersion accepts a version name ("R4") or a release ("4.0.1").
func ParseFHIRVersion(s string) (FHIRVersion, bool) {
	if v := FHIRVersion(s); v.IsValid() {
		return v, true
	}
	for v, cfg := range versionConfigs {
		if cfg.FHIRVersionString == s {
			return v, true
		}
	}
	return "", false
}

// versionConfig holds version-specific configuration.
type versionConfig struct {
	CorePackageName    string
	CorePackageVersion string

	// FHIRVersionString is the version string used in StructureDefinitions
	FHIRVersionString string
}

var versionConfigs = map[FHIRVersion]versionConfig{
	R4: {
		CorePackageName:    "hl7.fhir.r4.core",
		CorePackageVersion: "4.0.1",
		FHIRVersionString:  "4.0.1",
	},
	R4B: {
		CorePackageName:    "hl7.fhir.r4b.core",
		CorePackageVersion: "4.3.0",
		FHIRVersionString:  "4.3.0",
	},
	R5: {
		CorePackageName:    "hl7.fhir.r5.core",
		CorePackageVersion: "5.0.0",
		FHIRVersionString:  "5.0.0",
	},
}
