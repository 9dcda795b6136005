package main

import "github.com/giveme11us/discordato/cmd"

func main() {
	cmd.Execute()
}
