// Package harness runs conformance scenarios against the compiler.
//
// A scenario compiles one trace for a set of backends, executes every
// resulting descriptor with the reference interpreter, and checks the
// outputs and kernel counts against expectations.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: concat_rows
//	description: "Concat along N places x1 after x0"
//	trace: concat.cue
//	weights: concat.bin          # optional raw float32 blob
//	backends: [webgpu, fallback] # optional, default every backend
//	optimize: false
//	weight_encoding: float16     # optional
//	inputs:
//	  x0: [1, 2, 3, 4]
//	  x1: [5, 6, 7, 8, 9, 10]
//	expect:
//	  tolerance: 1e-5
//	  functions: 1
//	  invocations: 1
//	  outputs:
//	    y: [1, 2, 3, 4, 5, 6, 7, 8, 9, 10]
//
// Paths are relative to the scenario file.
//
// # Deterministic Testing
//
// Run IDs come from a sequential generator seeded with the scenario name,
// so descriptors and golden snapshots are identical across runs.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/concat.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
