//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the rotating triangle scene.
func (Run) Triangle() error {
	return runScene("triangle")
}

// Runs the compute driven particle scene.
func (Run) Compute() error {
	return runScene("particles")
}

func runScene(scene string) error {
	mg.Deps(Build.Shaders)
	fmt.Printf("Run %s...\n", scene)
	_, err := executeCmd("go", withArgs("run", ".", "-scene", scene), withStream())
	return err
}

type Test mg.Namespace

// Runs every package test.
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

// Runs the core tests with the race detector.
func (Test) Race() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./engine/renderer/rhi/...", "./engine/assets/...", "./engine/core/..."), withStream())
	return err
}
