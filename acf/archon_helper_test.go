package acf

import (
	"net"

	"github.com/CaltechOpticalObservatories/camera-interface-sub000/archon"
)

func newTestSession(conn net.Conn) *archon.Session {
	return archon.NewSessionWithConn(conn)
}
