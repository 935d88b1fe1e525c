// Command firesync dispatches actions to, and replays actions from, a
// firesync document collection.
package main

func main() {
	Execute()
}
