package main

import "github.com/nextlevelbuilder/mailclaw/cmd"

func main() {
	cmd.Execute()
}
