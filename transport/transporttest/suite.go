// Package transporttest provides a contract test suite for transport.Environment
// implementations. It checks the behaviour the connection manager relies on:
// buffered probe commands, duplex worker channels, uploads and shutdown.
package transporttest

import (
	"context"
	"fmt"
	"testing"

	"github.com/ruffel/remotefs/transport"
)

// Standard categories for grouping tests.
const (
	CategoryCore      = "core"
	CategoryStreaming = "streaming"
	CategoryFiles     = "files"
	CategoryLifecycle = "lifecycle"
)

// T is the minimal interface required for testify/assert and require.
type T interface {
	Errorf(format string, args ...any)
	FailNow()
	Skipf(format string, args ...any)
	Context() context.Context
	Name() string
}

// Factory opens a fresh environment. Lifecycle contracts close what they get.
type Factory func(t T) transport.Environment

// TestCase defines a single behavioral contract requirement.
type TestCase struct {
	Category    string
	Name        string
	Description string
	Run         func(t T, env transport.Environment)
}

// ID returns the stable, globally unique contract identifier.
func (tc TestCase) ID() string {
	return fmt.Sprintf("%s/%s", tc.Category, tc.Name)
}

// AllContracts returns all test cases for the contract test suite.
func AllContracts() []TestCase {
	var contracts []TestCase

	contracts = append(contracts, coreContracts()...)
	contracts = append(contracts, streamingContracts()...)
	contracts = append(contracts, fileContracts()...)
	contracts = append(contracts, lifecycleContracts()...)

	return contracts
}

// Verify is the standard Go test entry point for transport authors.
func Verify(t *testing.T, open Factory) {
	t.Helper()

	for _, tc := range AllContracts() {
		t.Run(tc.ID(), func(t *testing.T) {
			env := open(t)
			defer func() { _ = env.Close() }()

			tc.Run(t, env)
		})
	}
}
