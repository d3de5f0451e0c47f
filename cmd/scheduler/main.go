package main

import "github.com/aulnovauk/fieldops/services/scheduler/cli"

func main() {
	cli.Execute()
}
