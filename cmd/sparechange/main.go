package main

import "github.com/wnt/sparechange/cmd/sparechange/cmd"

func main() {
	cmd.Execute()
}
