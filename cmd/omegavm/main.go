// Command omegavm plays VM scenarios on a simulated machine.
package main

func main() {
	Execute()
}
