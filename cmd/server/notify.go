package main

import (
	"errors"
	"net"
	"os"

	"github.com/keithlinneman/insightdash/internal/xerrors"
)

var errNoNotifySocket = errors.New("NOTIFY_SOCKET not set")

// notifySystemd sends READY=1 when started as a Type=notify unit.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return errNoNotifySocket
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return xerrors.Wrap(err, "systemd notify: dial")
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return xerrors.Wrap(err, "systemd notify: write")
	}
	return conn.Close()
}
