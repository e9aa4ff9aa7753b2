// Package logx wraps zerolog for stillalive.
//
// Components take a Logger, bind their name with Component and tag lines with
// the will, character and outbox ids they touch. The Service behind a logger
// can be reconfigured at runtime.
package logx
