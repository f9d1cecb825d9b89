// Package sandbox runs candidate artifacts in isolated, disposable
// environments and reports structured outcomes.
//
// Every run gets its own scratch directory that no other run can observe;
// nothing survives a run. The executor resolves the profile's declared
// dependencies before executing anything, never mutates the artifact, and
// tears the environment down on every exit path, including timeout, where
// the whole process group is killed.
//
// Harness protocol: the entry command signals its result through its exit
// code. 0 is success, exit code 3 reports a security violation detected by
// the validation harness, any other non-zero exit is a logic mismatch.
package sandbox
