// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Command steward supervises coding agent subprocesses: it runs
// interactive sessions over a newline-delimited JSON protocol and
// manages the content-addressed checkpoint store.
//
// Usage:
//
//	steward run [flags]                  run an interactive session
//	steward checkpoint list --session    list a session's checkpoints
//	steward checkpoint show <hash>       show a checkpoint and its chain
//	steward checkpoint delete <hash>     delete an unreferenced checkpoint
//	steward version                      print version information
//
// Configuration comes from a YAML file named by STEWARD_CONFIG or the
// --config flag; see lib/config for the schema.
package main
