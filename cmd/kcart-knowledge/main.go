package main

import (
	"github.com/kcartbot/knowledge-engine/cmd/kcart-knowledge/cmd"
)

func main() {
	cmd.Execute()
}
