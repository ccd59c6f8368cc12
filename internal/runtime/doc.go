// Package runtime hosts the gateway client inside a process whose own code
// is synchronous. Start launches the connection service, the event consumer
// and a worker goroutine; Call and Submit hand work to that worker.
package runtime
