// Command isopose serves the pose-estimation and upright-control models.
package main

func main() {
	Execute()
}
