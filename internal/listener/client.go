package listener

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// defaultQueryTimeout bounds Query when ctx has no deadline.
const defaultQueryTimeout = 5 * time.Second

// Query asks the daemon listening on path for the current position.
func Query(ctx context.Context, path string, enc Encoding) (*Response, error) {
	if enc == "" {
		enc = EncodingJSON
	}
	if enc != EncodingJSON && enc != EncodingMsgpack {
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrMalformedRequest, enc)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultQueryTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}

	req := Request{Query: queryPosition, Encoding: enc}
	if _, err := fmt.Fprintf(conn, "%s\n", req); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	var resp Response
	r := bufio.NewReader(conn)
	if enc == EncodingMsgpack {
		err = msgpack.NewDecoder(r).Decode(&resp)
	} else {
		err = json.NewDecoder(r).Decode(&resp)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}
