// Package runner defines the contract between the job engine and the code
// that performs one kind of job, along with the registry that maps a
// specification's kind to its runner.
package runner
