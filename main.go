package main

import (
	"github.com/unlist-sh/unlist/cmd"
)

func main() {
	cmd.Execute()
}
