// Package harness runs conformance scenarios against the engine.
//
// A scenario names a CUE plan over simulated devices and a list of
// assertions on the documents the run delivers. Each scenario runs on a
// fresh engine with a deterministic time source and uid generator, so the
// same scenario always produces byte-identical documents and its stream can
// be compared against a golden file.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: gaussian_scan
//	description: "Ten-point scan of a detector following a motor"
//	plan_file: ../plans/gaussian.cue   # or an inline CUE plan under plan:
//	sequential: true                   # run plan and dispatcher on one goroutine
//	interrupt_after: 3                 # interrupt after the third event
//	assertions:
//	  - type: doc_count
//	    kind: event
//	    count: 10
//	  - type: doc_order
//	    kinds: [start, descriptor, event, stop]
//	  - type: exit_status
//	    status: success
//
// # Assertion Types
//
//   - doc_count: exactly Count documents of Kind were delivered
//   - doc_order: Kinds appear as a subsequence of the delivered stream
//   - exit_status: the run stop has Status, and a Reason substring if given
//   - seq_nums: events of every descriptor are numbered 1, 2, 3, ...
//   - event_fields: the event at Index carries the given data values
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/gaussian_scan.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, e := range result.Errors {
//	    log.Println(e)
//	}
package harness
