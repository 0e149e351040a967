// Package systemd starts, stops and queries the node's systemd units.
//
// Controller talks to systemd over D-Bus and waits for each job to report
// "done"; any other job result is an error. CommandController shells out
// to systemctl for hosts without a reachable system bus. Detect picks one.
package systemd
