//go:build tools

// this file is here so that `go mod download` fetches the developer tools
package main

import (
	_ "github.com/4meepo/tagalign/cmd/tagalign"
	_ "github.com/go-task/task/v3/cmd/task"
	_ "gotest.tools/gotestsum"
)
