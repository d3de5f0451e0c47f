package main

import "github.com/aulnovauk/fieldops/services/notifier/cli"

func main() {
	cli.Execute()
}
