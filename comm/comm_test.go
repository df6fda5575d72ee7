package comm_test

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/msquared/comm"
)

// echoUpper answers every CRLF terminated line with its upper case form
func echoUpper(conn net.Conn) {
	defer conn.Close()
	rdr := bufio.NewReader(conn)
	for {
		line, err := rdr.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSuffix(line, "\r\n")
		conn.Write([]byte(strings.ToUpper(line) + "\r\n"))
	}
}

func crlf() *comm.Terminators {
	return &comm.Terminators{Tx: []byte("\r\n"), Rx: []byte("\r\n")}
}

func TestSendRecvStripsTerminator(t *testing.T) {
	client, server := net.Pipe()
	go echoUpper(server)
	rd := comm.NewRemoteDevice("pipe", false, crlf(), nil)
	rd.Attach(client)
	defer rd.Close()

	resp, err := rd.SendRecv([]byte("q:"))
	require.NoError(t, err)
	require.Equal(t, "Q:", string(resp))

	resp, err = rd.SendRecv([]byte("ok"))
	require.NoError(t, err)
	require.Equal(t, "OK", string(resp))
}

func TestNotConnected(t *testing.T) {
	rd := comm.NewRemoteDevice("nowhere", false, nil, nil)
	_, err := rd.SendRecv([]byte("Q:"))
	require.ErrorIs(t, err, comm.ErrNotConnected)
	require.NoError(t, rd.Close())
}

func TestSerialWithoutConf(t *testing.T) {
	rd := comm.NewRemoteDevice("/dev/null", true, nil, nil)
	require.ErrorIs(t, rd.Open(), comm.ErrNoSerialConf)
}

func TestOpenSendRecvOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go echoUpper(conn)
		}
	}()

	rd := comm.NewRemoteDevice(ln.Addr().String(), false, crlf(), nil)
	defer rd.Close()
	resp, err := rd.OpenSendRecv([]byte("h:1"))
	require.NoError(t, err)
	require.Equal(t, "H:1", string(resp))
}

func TestTerminatorNotFound(t *testing.T) {
	client, server := net.Pipe()
	go func() {
		bufio.NewReader(server).ReadString('\n')
		server.Write([]byte("partial"))
		server.Close()
	}()
	rd := comm.NewRemoteDevice("pipe", false, crlf(), nil)
	rd.Attach(client)
	resp, err := rd.SendRecv([]byte("Q:"))
	require.ErrorIs(t, err, comm.ErrTerminatorNotFound)
	require.Equal(t, "partial", string(resp))
}
