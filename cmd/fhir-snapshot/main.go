// Command fhir-snapshot generates StructureDefinition snapshots from local
// definitions and FHIR packages.
//
// Usage:
//
//	fhir-snapshot generate -s profiles/ -p hl7.fhir.r4.core#4.0.1 http://example.org/StructureDefinition/my-patient
//	fhir-snapshot batch -s profiles/ -o out/ --workers 8 --metrics-file snapshot.prom
//	fhir-snapshot list -s profiles/ --unresolved
//
// Every flag can also be set in a YAML config file (--config) or through
// the environment, e.g. FHIR_SNAPSHOT_PACKAGE_PATH=/var/cache/fhir.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
