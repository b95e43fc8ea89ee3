package main

import "github.com/jetstack/securesession/cmd"

func main() {
	cmd.Execute()
}
