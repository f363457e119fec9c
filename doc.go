// Package fhirsnapshot generates the snapshots of FHIR StructureDefinitions.
//
// A profile ships a differential: the handful of elements it changes
// relative to its base definition. Its snapshot is the complete, ordered
// element list obtained by merging every differential along the base chain
// onto the root definition's snapshot. Consumers such as validators and
// code generators work from snapshots only.
//
// # Quick Start
//
//	import (
//	    fs "github.com/gofhir/snapshot"
//	    "github.com/gofhir/snapshot/engine"
//	)
//
//	eng, err := engine.New(ctx, fs.R4, fs.WithCorePackage(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if _, err := eng.LoadSource(ctx, "profiles/"); err != nil {
//	    log.Fatal(err)
//	}
//
//	sd, err := eng.StructureDefinition(ctx, "http://example.org/StructureDefinition/my-patient")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, _ := loader.ExportJSON(sd)
//
// # Functional Options
//
//	eng, err := engine.New(ctx, fs.R4,
//	    fs.WithPackagePath("/var/cache/fhir/packages"),
//	    fs.WithExpressionCheck(true),
//	    fs.WithWorkerCount(runtime.NumCPU()),
//	    fs.WithSnapshotCache(5000),
//	)
//
// # Packages
//
//   - pkg/model: StructureDefinition and ElementDefinition
//   - pkg/registry: definitions by URL and by type, base chain resolution
//   - pkg/merge: the per-element merge of a differential onto its base
//   - pkg/slicing: slice contexts, slice ordering and synthesized slicing
//   - pkg/snapshot: the generator and its cache of intermediate snapshots
//   - pkg/projection: invariant, binding, cardinality and slicing tables
//   - pkg/loader: JSON, YAML and FHIR package input, JSON and YAML export
//   - worker: parallel generation over a frozen registry
//   - engine: the facade tying loading, generation and metrics together
package fhirsnapshot
