// Package agent dispatches caller-named actions to registered tools.
//
// The dispatcher is not a planner: it runs exactly the one action it is asked
// for and returns that tool's result. Every action that starts is announced
// on the event bus and ends with exactly one terminal event.
package agent
