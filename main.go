package main

import "github.com/frahmantamala/pix-payments/cmd"

func main() {
	cmd.Execute()
}
