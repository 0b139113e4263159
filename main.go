package main

import (
	"github.com/oasisprotocol/datapool/cmd"
)

func main() {
	cmd.Execute()
}
