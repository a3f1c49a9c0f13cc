package main

import "github.com/evanofslack/instance-dns-sync/cmd"

func main() {
	cmd.Execute()
}
