// Command echoserver greets each new connection with "hello\n", echoes
// back whatever lines it sends, replies "bye\n" and half-closes on
// "exit\n", and terminates the whole server loop on "quit\n". It doubles
// as a manual smoke test for the whole stack: Acceptor,
// EventLoopThreadPool, TCPConnection, and the wakeup paths they share.
package main

import (
	"bytes"
	"flag"
	"os"

	"github.com/rs/zerolog"

	"github.com/zadwin/muduo"
)

func main() {
	addr := flag.String("addr", ":2007", "listen address")
	threads := flag.Int("threads", 0, "sub-loop thread count")
	usePoll := flag.Bool("poll", false, "force the poll(2) backend instead of epoll(7)")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	muduo.SetLevel(level)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)

	if *usePoll {
		os.Setenv("MUDUO_USE_POLL", "1")
	}

	loop, err := muduo.NewEventLoop(muduo.BackendAuto)
	if err != nil {
		panic(err)
	}

	server, err := muduo.NewTCPServer(loop, *addr, muduo.ServerOptions{
		Name:       "echo",
		NumThreads: *threads,
	})
	if err != nil {
		panic(err)
	}

	server.SetConnectionCallback(func(conn *muduo.TCPConnection) {
		if conn.Connected() {
			logger.Info().Str("conn", conn.Name()).Stringer("peer", conn.PeerAddr()).Msg("connected")
			conn.Send([]byte("hello\n"))
		} else {
			logger.Info().Str("conn", conn.Name()).Msg("disconnected")
		}
	})

	server.SetMessageCallback(func(conn *muduo.TCPConnection, buf *muduo.Buffer, receivedAt muduo.Timestamp) {
		for {
			line, ok := nextLine(buf)
			if !ok {
				return
			}
			switch string(line) {
			case "exit\n":
				conn.Send([]byte("bye\n"))
				conn.Shutdown()
			case "quit\n":
				loop.Quit()
			default:
				conn.Send(line)
			}
		}
	})

	if err := server.Start(); err != nil {
		panic(err)
	}

	loop.Loop()
}

// nextLine pulls one newline-terminated line (the newline included) off the
// front of buf, reporting false if buf has no complete line yet.
func nextLine(buf *muduo.Buffer) ([]byte, bool) {
	idx := bytes.IndexByte(buf.Peek(), '\n')
	if idx < 0 {
		return nil, false
	}
	line := buf.RetrieveAsString(idx + 1)
	return []byte(line), true
}
