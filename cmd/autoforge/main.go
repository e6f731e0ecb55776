// Command autoforge drives the task orchestration engine: it turns a
// project description into a dependency graph of plan, develop, and test
// tasks and executes them against a local inference endpoint.
package main

func main() {
	Execute()
}
