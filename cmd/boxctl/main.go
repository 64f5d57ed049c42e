// Command boxctl is a small demonstration CLI over a ctrfs container. It is
// not part of the container/registry core; it exists to exercise the public
// API the way an external collaborator (an HTTP service, a desktop app)
// would, with plain positional argument parsing and no flag-parsing
// dependency.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/KarpelesLab/ctrfs"
)

const usage = `boxctl - ctrfs container tool

Usage:
  boxctl create <container_file> <total_blocks> <block_size>   Create a new container
  boxctl put <container_file> <host_file> <name>                Copy a host file in
  boxctl get <container_file> <name> <host_file>                Copy a file out
  boxctl ls <container_file> [<path>]                           List a directory
  boxctl rm <container_file> <name>                             Delete a file
  boxctl mkdir <container_file> <name> [<parent>]               Create a directory
  boxctl health <container_file>                                Run a basic health check
  boxctl help                                                   Show this help message
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:])
	case "put":
		err = runPut(os.Args[2:])
	case "get":
		err = runGet(os.Args[2:])
	case "ls":
		err = runLs(os.Args[2:])
	case "rm":
		err = runRm(os.Args[2:])
	case "mkdir":
		err = runMkdir(os.Args[2:])
	case "health":
		err = runHealth(os.Args[2:])
	case "help":
		fmt.Println(usage)
		return
	default:
		fmt.Printf("Error: unknown command %q\n", os.Args[1])
		fmt.Println(usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func runCreate(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: boxctl create <container_file> <total_blocks> <block_size>")
	}
	total, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid total_blocks: %w", err)
	}
	bs, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid block_size: %w", err)
	}
	reg := ctrfs.NewContainerRegistry()
	c, err := reg.Create("default", args[0], uint32(total), uint32(bs))
	if err != nil {
		return err
	}
	return c.Close()
}

func runPut(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: boxctl put <container_file> <host_file> <name>")
	}
	return withContainer(args[0], func(c *ctrfs.Container) error {
		return c.CopyIn(args[1], args[2])
	})
}

func runGet(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: boxctl get <container_file> <name> <host_file>")
	}
	return withContainer(args[0], func(c *ctrfs.Container) error {
		return c.CopyOut(args[1], args[2])
	})
}

func runLs(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: boxctl ls <container_file> [<path>]")
	}
	path := "."
	if len(args) > 1 {
		path = args[1]
	}
	return withContainer(args[0], func(c *ctrfs.Container) error {
		dirs, err := c.ListDirectories(path)
		if err != nil {
			return err
		}
		files, err := c.ListFiles(path)
		if err != nil {
			return err
		}
		for _, d := range dirs {
			fmt.Printf("d %s\n", d)
		}
		for _, f := range files {
			fmt.Printf("- %s\n", f)
		}
		return nil
	})
}

func runRm(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: boxctl rm <container_file> <name>")
	}
	return withContainer(args[0], func(c *ctrfs.Container) error {
		return c.DeleteFile(args[1])
	})
}

func runMkdir(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: boxctl mkdir <container_file> <name> [<parent>]")
	}
	parent := "."
	if len(args) > 2 {
		parent = args[2]
	}
	return withContainer(args[0], func(c *ctrfs.Container) error {
		return c.MakeDirectory(args[1], parent)
	})
}

func runHealth(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: boxctl health <container_file>")
	}
	return withContainer(args[0], func(c *ctrfs.Container) error {
		if c.BasicHealthCheck() {
			fmt.Println("ok")
			return nil
		}
		return fmt.Errorf("container unhealthy")
	})
}

func withContainer(path string, fn func(*ctrfs.Container) error) error {
	reg := ctrfs.NewContainerRegistry()
	c, err := reg.Open("default", path)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}
