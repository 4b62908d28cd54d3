// Package ev3 talks to bricks running the legacy Linux-based firmware.
// Those bricks speak no framed protocol; programs move over SSH and run
// through the brick's launcher, with output streamed back on stderr.
package ev3
