// Package debugger implements the session controller that sits between the
// user-facing views of a debugger and a single backend debugging engine.
//
// A Controller owns four cooperating parts: a FIFO command queue with at most
// one command in flight, the session state machine, a notification hub that
// fans state changes out to subscribers, and an optional traffic sink that
// mirrors raw backend input and output. All of them are driven from a single
// goroutine; backend callbacks arriving on other goroutines are marshalled
// onto it before they touch any state.
package debugger
