// Package systemd drives game servers managed as systemd units. Stop goes
// through the unit's StopUnit job; with Restart=always (or on-failure plus a
// restart timer) in the unit file, systemd brings the server back up.
//
// The real implementation is linux-only; other platforms get a stub whose
// Connect fails, so a mis-targeted config surfaces at open.
package systemd

import "time"

type Config struct {
	Name string
	// Unit is the systemd unit name. A bare name gets ".service" appended.
	Unit string
	// StopTimeout bounds how long Stop waits for the job to be accepted.
	StopTimeout time.Duration
}
