// Command sessiond runs the mesh overlay session manager daemon.
package main

import "github.com/meshcore/sessiond/cmd/sessiond/commands"

func main() {
	commands.Execute()
}
