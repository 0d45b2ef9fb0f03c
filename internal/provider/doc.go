// Package provider abstracts cloud speech-to-text providers behind a
// streaming adapter contract. Providers differ in wire details but present
// identical semantics to the core; new providers register a factory and
// implement the capability set, nothing in the core changes.
package provider
