// Package dummy provides simulated instruments and a logic module for
// exercising a suite without hardware attached.
package dummy
