// Package sample implements the unit of work — Sample and its aggregate,
// Collection — carrying identity, input files, a monotonic success/failure
// state, a user-extensible attribute bag (backed by package attrs), and an
// accumulated output set (backed by package output).
package sample
