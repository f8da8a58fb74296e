package main

import "github.com/GanaRepository/mintoons-sub000/cmd/mintoons-quota/cmd"

func main() {
	cmd.Execute()
}
