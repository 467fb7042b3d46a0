// Package main is the entry of the softmmu command line tool.
package main

import "github.com/sarchlab/softmmu/softmmu/cmd"

func main() {
	cmd.Execute()
}
