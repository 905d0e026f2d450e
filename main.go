package main

import "github.com/hoanglm/replygate/cmd"

func main() {
	cmd.Execute()
}
