// Package output implements the declarative output set: which files under
// a runner's workdir get copied to the result directory, with placeholder
// substitution, glob expansion, and destination-name/destination-directory
// resolution. See the component design for the precedence rules and the
// exact validation order (source exists, destination inside resultdir,
// destination not already claimed).
package output
