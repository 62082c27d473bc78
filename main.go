package main

import "github.com/qrave1/RoomCall/cmd"

func main() {
	cmd.Execute()
}
