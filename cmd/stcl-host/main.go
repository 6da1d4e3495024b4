package main

import "github.com/langengroup/stcl/cmd/stcl-host/cmd"

func main() {
	cmd.Execute()
}
