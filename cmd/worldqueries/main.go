// Package main is the entry point for worldqueries: it brings up the compose
// stack, waits for the world database to accept connections and runs a
// verification query against it.
package main

func main() {
	Execute()
}
