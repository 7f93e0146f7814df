// Package registry answers one question: does this image tag exist. The
// deploy preflight asks it before any cluster mutation so a typoed version
// fails the run while the environment is still untouched.
package registry
