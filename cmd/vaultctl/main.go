package main

import "github.com/olegin77/TUSD-sub001/cmd/vaultctl/cmd"

func main() {
	cmd.Execute()
}
