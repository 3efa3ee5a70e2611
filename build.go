//go:build ignore

// build.go - volaiops build script
// Usage: go run build.go [-target=TARGET] [-v]
// Targets: all, volaiops, devserver, test, clean

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

const versionPkg = "volaiops/internal/infrastructure.ServiceVersion"

var (
	distDir  = "dist"
	binaries = []string{"volaiops", "devserver"}

	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
)

func main() {
	target := flag.String("target", "all", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	version := flag.String("version", gitVersion(), "Version stamped into the binaries")
	flag.Parse()

	if runtime.GOOS == "windows" {
		colorReset, colorRed, colorGreen, colorCyan = "", "", "", ""
	}

	start := time.Now()
	var err error
	switch *target {
	case "all":
		for _, name := range binaries {
			if err = buildBinary(name, *version, *verbose); err != nil {
				break
			}
		}
	case "volaiops", "devserver":
		err = buildBinary(*target, *version, *verbose)
	case "test":
		err = runTests(*verbose)
	case "clean":
		err = os.RemoveAll(distDir)
	default:
		showHelp()
		os.Exit(1)
	}
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("Build completed in %s", time.Since(start).Round(time.Millisecond)))
}

func buildBinary(name, version string, verbose bool) error {
	printInfo(fmt.Sprintf("Building %s %s...", name, version))

	out := filepath.Join(distDir, name)
	if runtime.GOOS == "windows" {
		out += ".exe"
	}
	ldflags := fmt.Sprintf("-s -w -X %s=%s", versionPkg, version)
	args := []string{"build", "-trimpath", "-ldflags", ldflags, "-o", out, "./cmd/" + name}
	if verbose {
		args = append([]string{"build", "-v"}, args[1:]...)
	}
	if err := run("go", args...); err != nil {
		return fmt.Errorf("build %s: %w", name, err)
	}
	printSuccess("Built " + out)
	return nil
}

func runTests(verbose bool) error {
	args := []string{"test", "-race", "./..."}
	if verbose {
		args = append(args, "-v")
	}
	return run("go", args...)
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// gitVersion describes HEAD, or "dev" outside a git checkout
func gitVersion() string {
	out, err := exec.Command("git", "describe", "--tags", "--always", "--dirty").Output()
	if err != nil || len(out) == 0 {
		return "dev"
	}
	return string(out[:len(out)-1])
}

func printInfo(msg string)    { fmt.Printf("%s==> %s%s\n", colorCyan, msg, colorReset) }
func printSuccess(msg string) { fmt.Printf("%s✓ %s%s\n", colorGreen, msg, colorReset) }
func printError(msg string)   { fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, msg, colorReset) }

func showHelp() {
	fmt.Println("Usage: go run build.go -target=TARGET")
	fmt.Println()
	fmt.Println("Targets:")
	fmt.Println("  all        build every binary into dist/")
	fmt.Println("  volaiops   build the operations CLI")
	fmt.Println("  devserver  build the local API stand-in")
	fmt.Println("  test       run the test suite with the race detector")
	fmt.Println("  clean      remove dist/")
}
