// Package harness runs pipeline scenarios against a throwaway project.
//
// A scenario is a YAML file that seeds project files, drives the pipeline
// through a flow of actions, and asserts on the resulting trace and on
// what is left on disk.
//
// # Scenario Format
//
//	name: happy_path
//	description: "Draft, summarize, refine, judge and commit chapter 1"
//	checkpoint: '{"last_completed_chapter":0,"current_volume":1}'
//	files:
//	  novel.yaml: "lock:\n  max_attempts: 1\n"
//	flow:
//	  - do: next
//	    expect: { detail: "chapter:001:draft" }
//	  - do: stage
//	    chapter: 1
//	    ops:
//	      - { op: set, path: characters.lin.display_name, value: Lin }
//	  - do: advance
//	    step: "chapter:001:draft"
//	  - do: commit
//	    chapter: 1
//	    expect: { error: precondition }
//	assertions:
//	  - type: trace_order
//	    actions: [next, stage, advance, commit]
//	  - type: checkpoint
//	    expect: { last_completed_chapter: 0 }
//	  - type: file_exists
//	    path: staging/chapters/chapter-001.md
//	  - type: journal_count
//	    outcome: rolled_back
//	    count: 1
//
// # Actions
//
//   - write, remove: edit a project file directly
//   - stage: write a complete set of staging artifacts for a chapter
//   - next, validate, prepare, advance: the pipeline operations
//   - commit: commit a chapter, or plan it with dry_run
//   - lock_clear: clear a stale lock
//
// # Assertion Types
//
//   - trace_contains: an action appears with the given outcome and target
//   - trace_order: actions appear in the given order
//   - trace_count: an action appears exactly N times
//   - checkpoint: the checkpoint file has the expected fields
//   - file_exists, file_absent: a project path does or does not exist
//   - journal_count: the commit journal holds N entries with an outcome
//
// # Deterministic Testing
//
// Every run uses a fixed clock and sequential transaction ids, and records
// commits in an in-memory journal, so traces compare byte for byte against
// golden files in testdata/golden.
package harness
