package main

import "github.com/quantdesk/bar-service/cmd"

func main() {
	cmd.Execute()
}
