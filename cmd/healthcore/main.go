// Command healthcore serves the health campaign registry and runs its
// maintenance tasks.
package main

func main() {
	Execute()
}
