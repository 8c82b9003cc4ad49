package main

import "github.com/oshokin/cruma-installer/cmd/cruma-installer/cmd"

func main() {
	cmd.Execute()
}
