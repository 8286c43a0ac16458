// Package haptics translates avatar parameter updates into actuator commands
// for the haptic controller firmware.
//
// A parameter update is an (address, value) pair. The Translator strips the
// configured address prefix, resolves the remaining name through a PointMap,
// shapes the value with a Curve and returns a Command ready to be encoded onto
// the serial link. Anything that is not a recognised, well formed update yields
// no command; the package never returns errors or panics for input shape.
//
// Wire format (one ASCII line per command):
//
//	s<index>,<target>,<ramp>\n   set point <index> to <target> over <ramp> ticks
//	r\n                          reset all points and PWM slices
//	q\n                          report every point's current state
//	t\n                          run the controller's self-test sweep
package haptics
