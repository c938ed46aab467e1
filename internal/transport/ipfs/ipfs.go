// Package ipfs implements transport.Store over an IPFS node's Mutable File
// System (MFS), using github.com/ipfs/go-ipfs-api the way a typical IPFS
// shell client does: shell.NewShell, an ID() probe at construction, and
// SwarmConnect before relying on a peer.
//
// MFS gives this daemon arbitrary-string-key put/get semantics: Publish
// writes the key-expression as an MFS path, and Get reads it back. It is the
// closest idiomatic mapping from zfsd's key expressions onto IPFS's
// otherwise content-addressed model, without inventing a new wire protocol
// of our own.
package ipfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/zfsd-project/zfsd/internal/logging"
	"github.com/zfsd-project/zfsd/internal/transport"
)

var log = logging.Global().WithComponent("transport")

// Client adapts an IPFS node to transport.Store.
type Client struct {
	sh *shell.Shell
}

// New connects to the IPFS HTTP API at apiURL (e.g. "localhost:5001") and
// optionally dials the given swarm peer multiaddrs before returning, so the
// daemon can reach remote MFS writers immediately. Each remote endpoint must
// parse as a multiaddr carrying a peer ID (the usual
// /ip4/.../tcp/.../p2p/<peer-id> form); one that doesn't is skipped with a
// warning rather than passed through to the node unchecked.
func New(ctx context.Context, apiURL string, remoteEndpoints []string) (*Client, error) {
	if apiURL == "" {
		apiURL = "localhost:5001"
	}
	sh := shell.NewShell(apiURL)

	if _, err := sh.ID(); err != nil {
		return nil, fmt.Errorf("connect to ipfs at %s: %w", apiURL, err)
	}

	for _, addr := range remoteEndpoints {
		info, err := parsePeerAddr(addr)
		if err != nil {
			log.Warn("skipping unparseable remote endpoint", logging.Fields{"addr": addr, "err": err.Error()})
			continue
		}
		if err := sh.SwarmConnect(ctx, addr); err != nil {
			log.Warn("failed to connect to remote endpoint", logging.Fields{"addr": addr, "peer": info.ID.String(), "err": err.Error()})
		}
	}

	return &Client{sh: sh}, nil
}

// parsePeerAddr validates that addr is a well-formed multiaddr carrying a
// peer ID, without itself dialing anything.
func parsePeerAddr(addr string) (*peer.AddrInfo, error) {
	m, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return nil, fmt.Errorf("parse multiaddr: %w", err)
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return nil, fmt.Errorf("extract peer id: %w", err)
	}
	return info, nil
}

func mfsPath(key string) string {
	return path.Clean("/" + key)
}

// Publish writes data to the MFS path for key, creating parent directories
// as needed and truncating any previous content (last-writer-wins).
func (c *Client) Publish(ctx context.Context, key string, data []byte) error {
	p := mfsPath(key)
	if err := c.sh.FilesMkdir(ctx, path.Dir(p), shell.FilesMkdir.Parents(true)); err != nil {
		log.Debug("files mkdir (may already exist)", logging.Fields{"path": path.Dir(p), "err": err.Error()})
	}
	if err := c.sh.FilesWrite(ctx, p, bytes.NewReader(data), shell.FilesWrite.Create(true), shell.FilesWrite.Truncate(true)); err != nil {
		return fmt.Errorf("mfs write %s: %w", p, err)
	}
	return nil
}

// Get reads the MFS path for key. A read failure is reported as
// transport.ErrNotFound -- the adapter does not try to
// distinguish "never published" from other MFS read failures, since either
// way the caller's correct response is the same: treat the key as still
// missing and retry next cycle.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	p := mfsPath(key)
	r, err := c.sh.FilesRead(ctx, p)
	if err != nil {
		return nil, transport.ErrNotFound
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read mfs %s: %w", p, err)
	}
	return data, nil
}

var _ transport.Store = (*Client)(nil)
