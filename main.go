package main

import "github.com/noaa-ocs-hydrography/BlueTopo/cmd"

func main() {
	cmd.Execute()
}
