// Package main tidies the source tree.
// Run via: go generate ./...
// It aligns and orders struct tags of the wire and storage types, then
// formats the tree.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// tagOrder lists the struct tag keys in the order they appear on a field.
const tagOrder = "json,form,gorm,bson"

func main() {
	root := findProjectRoot()

	fmt.Println("Aligning struct tags...")
	run(root, "go", "run", "github.com/4meepo/tagalign/cmd/tagalign", "-fix", "-sort", "-order", tagOrder, "./internal/...")

	fmt.Println("Formatting Go code...")
	run(root, "gofmt", "-w", "main.go", "internal")

	fmt.Println("Generation complete.")
}

func run(dir, name string, args ...string) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "command failed: %s %v: %v\n", name, args, err)
		os.Exit(1)
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot get working directory: %v\n", err)
		os.Exit(1)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			fmt.Fprintf(os.Stderr, "cannot find project root (go.mod)\n")
			os.Exit(1)
		}
		dir = parent
	}
}
