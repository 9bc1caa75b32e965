// Package state provides the filesystem-backed store for named goals.
// Session traces live in package trace.
package state
