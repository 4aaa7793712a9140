package main

import "github.com/Discord-RL-League-Management/discord-bot-sub001/cmd"

func main() {
	cmd.Execute()
}
