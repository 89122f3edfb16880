package core

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"
)

func TestWriteReadFrameRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("onion wrapped bytes")
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	got, err := readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("readFrame = %q, want %q", got, payload)
	}
}

func TestReadFrameRejectsTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, []byte("truncated")); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-3]

	if _, err := readFrame(bufio.NewReader(bytes.NewReader(truncated))); err == nil {
		t.Fatal("readFrame accepted a truncated frame")
	}
}

func TestReadFrameReturnsEOFOnEmptyStream(t *testing.T) {
	if _, err := readFrame(bufio.NewReader(bytes.NewReader(nil))); err != io.EOF {
		t.Fatalf("readFrame error = %v, want io.EOF", err)
	}
}

func TestDialerDialConnectsToListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	d := NewDialer(2*time.Second, 30*time.Second)
	conn, err := d.Dial(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()
}

func TestDialerDialFailsOnRefusedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing listening now

	d := NewDialer(500*time.Millisecond, 0)
	if _, err := d.Dial(context.Background(), addr); err == nil {
		t.Fatal("Dial succeeded against a closed port")
	}
}

func TestTransportRegisterAndResolvePeerAddr(t *testing.T) {
	tr := &ClandestineTransport{addrByKey: make(map[string]NodeAddr)}
	self := mustCryptDE(t)
	addr := NewNodeAddr(net.ParseIP("198.51.100.9"), []uint16{4000})

	tr.RegisterPeerAddr(self.PublicKey(), addr)

	got, ok := tr.AddrOf(self.PublicKey())
	if !ok || !got.Equal(addr) {
		t.Fatalf("AddrOf = %v, %v, want %v, true", got, ok, addr)
	}

	ip, ok := tr.PeerAddr(self.PublicKey())
	if !ok || !ip.Equal(addr.IP) {
		t.Fatalf("PeerAddr = %v, %v, want %v, true", ip, ok, addr.IP)
	}

	other := mustCryptDE(t)
	if _, ok := tr.AddrOf(other.PublicKey()); ok {
		t.Fatal("AddrOf resolved an unregistered key")
	}
}

func TestTransportSendToFailsWithoutKnownAddress(t *testing.T) {
	tr := &ClandestineTransport{addrByKey: make(map[string]NodeAddr)}
	self := mustCryptDE(t)
	if err := tr.SendTo(self.PublicKey(), CryptData("x")); err == nil {
		t.Fatal("SendTo succeeded for a peer with no registered address")
	}
}

func TestTransportSendToFailsWhenAddressHasNoPorts(t *testing.T) {
	tr := &ClandestineTransport{addrByKey: make(map[string]NodeAddr)}
	self := mustCryptDE(t)
	tr.RegisterPeerAddr(self.PublicKey(), NewNodeAddr(net.ParseIP("198.51.100.9"), nil))

	if err := tr.SendTo(self.PublicKey(), CryptData("x")); err == nil {
		t.Fatal("SendTo succeeded for an address advertising no ports")
	}
}

func TestClandestinePoolReusesReleasedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go io.Copy(io.Discard, conn)
		}
	}()

	pool := NewConnPool(NewDialer(2*time.Second, 0), 4, time.Minute)
	defer pool.Close()

	first, err := pool.Acquire(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	pool.Release(first)

	if got := pool.IdleConnections(); got != 1 {
		t.Fatalf("IdleConnections after Release = %d, want 1", got)
	}

	second, err := pool.Acquire(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Acquire (reuse): %v", err)
	}
	if second != first {
		t.Fatal("Acquire dialed a new connection instead of reusing the released one")
	}
	if got := pool.IdleConnections(); got != 0 {
		t.Fatalf("IdleConnections after reacquiring = %d, want 0", got)
	}
}

func TestClandestinePoolReleaseClosesNonPooledConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	<-accepted

	pool := NewConnPool(NewDialer(time.Second, 0), 4, time.Minute)
	defer pool.Close()
	pool.Release(client) // not a *clandestineConn, must just be closed

	if got := pool.IdleConnections(); got != 0 {
		t.Fatalf("IdleConnections = %d, want 0 for a connection Acquire never handed out", got)
	}
	if _, err := client.Write([]byte{0}); err == nil {
		t.Fatalf("write after Release succeeded, want the connection closed")
	}
}

func TestRemoteIPParsesTCPConnAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	server := <-accepted
	defer server.Close()

	ip := remoteIP(server)
	if ip == nil || !ip.IsLoopback() {
		t.Fatalf("remoteIP = %v, want a loopback address", ip)
	}
}
