//go:build tools

// Package tools pins the versions of the build and lint tools the Taskfile runs.
package tools

import (
	_ "github.com/go-task/task/v3/cmd/task"
	_ "github.com/golangci/golangci-lint/v2/cmd/golangci-lint"
)
