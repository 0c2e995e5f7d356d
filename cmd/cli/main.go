// Command cli is an interactive relay client for exercising the server:
// it registers, prints delivered codes, and forwards typed commands.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mkrivosheev/passrelay/internal/protocol"
)

func main() {
	url := flag.String("url", "ws://localhost:29985/ws", "relay websocket URL")
	clientID := flag.String("id", "", "client identifier (required)")
	password := flag.String("password", "", "shared secret, when the server requires one")
	version := flag.Int("version", 1, "protocol version to announce")
	flag.Parse()

	if *clientID == "" {
		fmt.Fprintln(os.Stderr, "missing client identifier (--id)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.Dial(ctx, *url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *url, err)
		os.Exit(1)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	register := fmt.Sprintf("register %d_ws %s", *version, *clientID)
	if *password != "" {
		register = fmt.Sprintf("register %d_ws %s %s", *version, *password, *clientID)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(register)); err != nil {
		fmt.Fprintf(os.Stderr, "register: %v\n", err)
		os.Exit(1)
	}

	go func() {
		defer stop()
		for {
			var resp protocol.Response
			if err := wsjson.Read(ctx, conn, &resp); err != nil {
				if ctx.Err() == nil {
					fmt.Fprintf(os.Stderr, "connection closed: %v\n", err)
				}
				return
			}
			printResponse(resp)
		}
	}()

	fmt.Println("commands: continue, FR, mark_other, ping, close")
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		cmd := strings.TrimSpace(sc.Text())
		if cmd == "" {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, []byte(cmd)); err != nil {
			fmt.Fprintf(os.Stderr, "send: %v\n", err)
			return
		}
		if cmd == protocol.CmdClose {
			return
		}
	}
}

func printResponse(resp protocol.Response) {
	switch resp.Status {
	case protocol.StatusDelivered:
		fmt.Printf("code: %s\n", resp.Body)
	case protocol.StatusPing:
		fmt.Println("pong")
	default:
		fmt.Printf("[%d/%d] %s\n", resp.Status, resp.Sub, resp.Body)
	}
}
