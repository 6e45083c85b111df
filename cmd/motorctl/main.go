// Command motorctl discovers, moves and calibrates the motors of one or
// more controller boxes described in a YAML file.
package main

func main() {
	Execute()
}
