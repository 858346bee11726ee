package main

import (
	"net"
	"strconv"
)

func listenTCP(port int) (net.Listener, error) {
	return net.Listen("tcp", ":"+strconv.Itoa(port))
}
