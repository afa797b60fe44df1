// Command rft runs a Robust File Transfer endpoint, either as a server
// that answers Read/Checksum/List requests against a directory tree, or
// as a client that fetches files from one.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/yusuferdemnacar/robust-file-transfer/conn"
	"github.com/yusuferdemnacar/robust-file-transfer/connmgr"
	"github.com/yusuferdemnacar/robust-file-transfer/role"
)

var (
	serverMode = flag.Bool("server", false, "Run as a server instead of a client")
	host       = flag.String("host", "127.0.0.1", "Server address to connect to (client mode)")
	port       = flag.Int("port", 32323, "UDP port to listen on (server mode) or connect to (client mode)")
	listenAddr = flag.String("listen", "", "Local address to bind (client mode). Default lets the OS choose.")
	ipv6       = flag.Bool("ipv6", false, "Bind/connect over udp6 instead of udp4")
	lossP      = flag.Float64("p", 0, "Probability of entering the lossy state after a successful send")
	lossQ      = flag.Float64("q", 0, "Probability of leaving the lossy state after a dropped send")
	seed       = flag.Int64("seed", 1, "Seed for the loss model's random source")
	promPort   = flag.String("prom", "", "Prometheus metrics export address and port, e.g. ':9090'. Disabled if empty.")
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)
	validateFlags()

	if *promPort != "" {
		promSrv := prometheusx.MustStartPrometheus(*promPort)
		defer promSrv.Shutdown(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if *serverMode {
		runServer(ctx)
	} else {
		runClient(ctx, flag.Args())
	}
}

// validateFlags enforces the argument constraints a bad invocation should
// fail on before anything touches the network: loss probabilities out of
// [0, 1], or a mode given the other mode's arguments. Exits with a nonzero
// status on any violation.
func validateFlags() {
	if *lossP < 0 || *lossP > 1 {
		log.Fatalf("-p must be between 0 and 1, got %v", *lossP)
	}
	if *lossQ < 0 || *lossQ > 1 {
		log.Fatalf("-q must be between 0 and 1, got %v", *lossQ)
	}

	hostSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "host" {
			hostSet = true
		}
	})

	if *serverMode {
		if hostSet {
			log.Fatal("-host may not be supplied in server mode")
		}
		if len(flag.Args()) != 0 {
			log.Fatal("server mode does not take file arguments")
		}
	} else {
		if !hostSet {
			log.Fatal("client mode requires -host")
		}
		if len(flag.Args()) == 0 {
			log.Fatal("client mode requires at least one remote file path argument")
		}
	}
}

func networkName() string {
	if *ipv6 {
		return "udp6"
	}
	return "udp4"
}

func runServer(ctx context.Context) {
	laddr := net.JoinHostPort("", strconv.Itoa(*port))
	sock, err := connmgr.Listen(laddr, *ipv6)
	rtx.Must(err, "could not listen on %s", laddr)
	log.Printf("server listening on %s", sock.LocalAddr())

	server := role.NewServer(nil)
	mgr := connmgr.NewManager(sock, *lossP, *lossQ, *seed, server, "server")
	server.SetManager(mgr)

	rtx.Must(mgr.Loop(ctx), "server loop exited with an error")
}

func runClient(ctx context.Context, files []string) {
	network := networkName()
	localAddr, err := net.ResolveUDPAddr(network, *listenAddr)
	rtx.Must(err, "could not resolve local address %q", *listenAddr)
	sock, err := net.ListenUDP(network, localAddr)
	rtx.Must(err, "could not open client socket")
	log.Printf("client bound to %s", sock.LocalAddr())

	remote := net.JoinHostPort(*host, strconv.Itoa(*port))
	remoteAddr, err := net.ResolveUDPAddr(network, remote)
	rtx.Must(err, "could not resolve server address %s", remote)

	client := role.NewClient(nil)
	mgr := connmgr.NewManager(sock, *lossP, *lossQ, *seed, client, "client")
	client.SetManager(mgr)

	provisional := conn.New(conn.ProvisionalIdentity(), remoteAddr, mgr, client, role.NewFlowUUID())
	client.Bind(provisional)

	for _, remotePath := range files {
		localPath := localNameFor(remotePath)
		rtx.Must(client.RequestFile(remotePath, localPath), "could not request %s", remotePath)
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- mgr.Loop(ctx) }()

	select {
	case <-client.Done:
		log.Print("all transfers complete")
	case <-ctx.Done():
		log.Print("interrupted")
	case err := <-loopDone:
		rtx.Must(err, "client loop exited with an error")
		return
	}

	client.Exit()
	// Give the loop one more iteration to flush the Exit frame before the
	// process tears the socket down.
	time.Sleep(2 * pollGraceInterval)
}

// pollGraceInterval bounds how long runClient waits for a final flush
// after queuing an Exit frame.
const pollGraceInterval = 50 * time.Millisecond

// localNameFor derives a local destination path from a remote path
// requested from the server, using only its final path element so a
// deep remote path does not require local directories to be created.
func localNameFor(remotePath string) string {
	base := remotePath
	for i := len(remotePath) - 1; i >= 0; i-- {
		if remotePath[i] == '/' || remotePath[i] == '\\' {
			base = remotePath[i+1:]
			break
		}
	}
	if base == "" {
		base = "download"
	}
	return base
}
