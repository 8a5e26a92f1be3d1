package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/quokkadb/quokkadb/server/dispatcher"
	"github.com/quokkadb/quokkadb/server/document"
)

// quokka_client is a line-oriented shell over the packet protocol:
//
//	ping
//	insert <collection> <field>=<value> ...
//	find <collection> <id>
//	delete <collection> <id>
//	scan <collection>
//	collections
//	quit
type client struct {
	conn net.Conn
	seq  uint32
}

func main() {
	var addr string
	flag.StringVar(&addr, "addr", "127.0.0.1:4817", "server address")
	flag.Parse()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer conn.Close()
	c := &client{conn: conn}
	fmt.Printf("connected to %s\n", addr)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" || line == "exit" {
			return
		}
		if line != "" {
			if err := c.execute(line); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		}
		fmt.Print("> ")
	}
}

func (c *client) execute(line string) error {
	parts := strings.Fields(line)
	switch parts[0] {
	case "ping":
		return c.call(dispatcher.CmdPing, nil)
	case "insert":
		if len(parts) < 3 {
			return fmt.Errorf("usage: insert <collection> <field>=<value> ...")
		}
		doc := document.NewDocument()
		for _, pair := range parts[2:] {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				return fmt.Errorf("bad field %q", pair)
			}
			doc.Set(kv[0], document.String(kv[1]))
		}
		return c.call(dispatcher.CmdInsert, document.FromPairs(
			"collection", document.String(parts[1]),
			"document", document.Embedded(doc),
		))
	case "find":
		if len(parts) != 3 {
			return fmt.Errorf("usage: find <collection> <id>")
		}
		return c.call(dispatcher.CmdFindById, document.FromPairs(
			"collection", document.String(parts[1]),
			"id", document.String(parts[2]),
		))
	case "delete":
		if len(parts) != 3 {
			return fmt.Errorf("usage: delete <collection> <id>")
		}
		return c.call(dispatcher.CmdDelete, document.FromPairs(
			"collection", document.String(parts[1]),
			"id", document.String(parts[2]),
		))
	case "scan":
		if len(parts) != 2 {
			return fmt.Errorf("usage: scan <collection>")
		}
		return c.call(dispatcher.CmdScan, document.FromPairs(
			"collection", document.String(parts[1]),
		))
	case "collections":
		return c.call(dispatcher.CmdListNames, nil)
	default:
		return fmt.Errorf("unknown command %q", parts[0])
	}
}

func (c *client) call(cmd byte, req *document.Document) error {
	var body []byte
	if req != nil {
		body = document.Encode(req)
	}
	c.seq++

	frame := make([]byte, 9+len(body))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(body)))
	frame[4] = cmd
	binary.LittleEndian.PutUint32(frame[5:9], c.seq)
	copy(frame[9:], body)
	if _, err := c.conn.Write(frame); err != nil {
		return err
	}

	header := make([]byte, 9)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return err
	}
	replyBody := make([]byte, binary.LittleEndian.Uint32(header[0:4]))
	if _, err := io.ReadFull(c.conn, replyBody); err != nil {
		return err
	}
	reply, err := document.Decode(replyBody)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}
