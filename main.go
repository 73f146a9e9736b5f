package main

import "github.com/naka-gawa/github-weekly/cmd"

func main() {
	cmd.Execute()
}
