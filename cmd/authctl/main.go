package main

import (
	"os"

	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/cmd/authctl/commands"
)

func main() {
	rootCMD := commands.NewRootCMD()
	if err := rootCMD.Execute(); err != nil {
		rootCMD.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
